package distribution

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

// Handler exposes distribution endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a distribution handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CreatorID      string `json:"creator_id"`
	ConversationID string `json:"conversation_id"`
	Asset          string `json:"asset"`
	TotalAmount    int64  `json:"total_amount"`
	Count          int    `json:"count"`
	Policy         string `json:"policy"`
	Message        string `json:"message"`
}

// Create opens a distribution pot inside a conversation.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	d, err := h.service.Create(c.UserContext(), CreateInput{
		CreatorID:       req.CreatorID,
		ConversationID:  req.ConversationID,
		Asset:           req.Asset,
		TotalAmount:     req.TotalAmount,
		Count:           req.Count,
		Policy:          req.Policy,
		Message:         req.Message,
		RequestorUserID: principal,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(view(d, nil))
}

type claimRequest struct {
	AccountID string `json:"account_id"`
}

// Claim draws the caller's share from the pot.
func (h *Handler) Claim(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	d, claim, err := h.service.Claim(c.UserContext(), c.Params("id"), req.AccountID, principal)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"distribution": view(d, nil),
		"claim": fiber.Map{
			"claimant_id": claim.ClaimantID,
			"amount":      claim.Amount,
			"claimed_at":  claim.ClaimedAt.Format(time.RFC3339Nano),
		},
	})
}

// Cancel refunds the unclaimed remainder to the creator.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	principal, _ := c.Locals("principal_id").(string)

	d, err := h.service.Cancel(c.UserContext(), c.Params("id"), principal)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view(d, nil))
}

// Get returns the pot's state and its claims.
func (h *Handler) Get(c *fiber.Ctx) error {
	d, claims, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view(d, claims))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, account.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotCreator):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrExhausted),
		errors.Is(err, ErrExpired), errors.Is(err, ErrNotActive):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func view(d Distribution, claims []Claim) fiber.Map {
	m := fiber.Map{
		"id":              d.ID,
		"creator_id":      d.CreatorID,
		"conversation_id": d.ConversationID,
		"asset":           d.Asset,
		"total_amount":    d.TotalAmount,
		"count":           d.PacketCount,
		"policy":          d.Policy,
		"message":         d.Message,
		"state":           d.State,
		"remaining":       d.Remaining,
		"claimed_count":   d.ClaimedCount,
		"created_at":      d.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":      d.ExpiresAt.Format(time.RFC3339Nano),
	}
	if d.ResolvedAt != nil {
		m["resolved_at"] = d.ResolvedAt.Format(time.RFC3339Nano)
	}
	if claims != nil {
		list := make([]fiber.Map, 0, len(claims))
		for _, c := range claims {
			list = append(list, fiber.Map{
				"claimant_id": c.ClaimantID,
				"amount":      c.Amount,
				"claimed_at":  c.ClaimedAt.Format(time.RFC3339Nano),
			})
		}
		m["claims"] = list
	}
	return m
}
