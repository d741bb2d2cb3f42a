package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service     *Service
	nativeAsset string
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service, nativeAsset string) *Handler {
	return &Handler{service: service, nativeAsset: nativeAsset}
}

type createRequest struct {
	Asset string `json:"asset"`
}

type accountResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Create provisions a custodial account for the authenticated principal.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ownerID, _ := c.Locals("principal_id").(string)
	if req.Asset == "" {
		req.Asset = h.nativeAsset
	}

	account, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: ownerID, Asset: req.Asset})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(accountResponse{
		ID:        account.ID,
		OwnerID:   account.OwnerID,
		Address:   account.Address,
		Status:    account.Status,
		CreatedAt: account.CreatedAt.Format(time.RFC3339Nano),
	})
}

// Balance returns the balance for one asset of an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	asset := c.Query("asset", h.nativeAsset)

	balance, err := h.service.Balance(c.UserContext(), accountID, asset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": balance.AccountID,
		"asset":      balance.Asset,
		"balance":    balance.Amount,
		"timestamp":  balance.AsOf,
	})
}

// History returns the paginated ledger history for one asset of an account.
func (h *Handler) History(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	asset := c.Query("asset", h.nativeAsset)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.service.History(c.UserContext(), accountID, asset, limit, offset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"id":             e.ID,
			"transaction_id": e.TransactionID,
			"kind":           e.Kind,
			"delta":          e.Delta,
			"created_at":     e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"asset":      asset,
		"entries":    items,
	})
}
