package withdrawal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/guard"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
	"github.com/lumo-chat/lumo_pay/internal/sequence"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type requestBody struct {
	AccountID   string `json:"account_id"`
	Asset       string `json:"asset"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	Tier        string `json:"tier"`
}

// Request starts a withdrawal for an account the caller owns.
func (h *Handler) Request(c *fiber.Ctx) error {
	var req requestBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	w, err := h.service.Request(c.UserContext(), RequestInput{
		AccountID:       req.AccountID,
		Asset:           req.Asset,
		Destination:     req.Destination,
		Amount:          req.Amount,
		Tier:            req.Tier,
		RequestorUserID: principal,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, account.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "account not found")
		case errors.Is(err, ErrNotOwner):
			return fiber.NewError(http.StatusForbidden, "not owner of account")
		case errors.Is(err, guard.ErrAmountOutOfRange):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, guard.ErrLimitExceeded):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, sequence.ErrReconciliationRequired):
			return fiber.NewError(http.StatusServiceUnavailable, "account pending sequence reconciliation")
		case errors.Is(err, sequence.ErrLocked):
			return fiber.NewError(http.StatusConflict, "another withdrawal is in flight for this account")
		default:
			// Submission failures still return the authoritative row: the
			// debit was already reversed and the caller can inspect state.
			return c.Status(http.StatusBadGateway).JSON(view(w))
		}
	}

	return c.Status(http.StatusCreated).JSON(view(w))
}

// Get returns the authoritative state of a withdrawal.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "withdrawal not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(view(w))
}

func view(w Withdrawal) fiber.Map {
	m := fiber.Map{
		"id":          w.ID,
		"account_id":  w.AccountID,
		"asset":       w.Asset,
		"destination": w.Destination,
		"amount":      w.Amount,
		"tier":        w.Tier,
		"state":       w.State,
		"retry_count": w.RetryCount,
		"created_at":  w.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  w.UpdatedAt.Format(time.RFC3339Nano),
	}
	if w.TxRef != "" {
		m["tx_ref"] = w.TxRef
	}
	if w.FailureReason != "" {
		m["failure_reason"] = w.FailureReason
	}
	if w.ConfirmedAt != nil {
		m["confirmed_at"] = w.ConfirmedAt.Format(time.RFC3339Nano)
	}
	return m
}
