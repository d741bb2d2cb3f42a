package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	ConversationID string `json:"conversation_id"`
	Asset          string `json:"asset"`
	Amount         int64  `json:"amount"`
	Message        string `json:"message"`
}

// Create opens an escrow transfer inside a conversation.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	t, err := h.service.Create(c.UserContext(), CreateInput{
		SenderID:        req.SenderID,
		RecipientID:     req.RecipientID,
		ConversationID:  req.ConversationID,
		Asset:           req.Asset,
		Amount:          req.Amount,
		Message:         req.Message,
		RequestorUserID: principal,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(view(t))
}

type claimRequest struct {
	AccountID string `json:"account_id"`
}

// Claim delivers an escrowed transfer to the caller's account.
func (h *Handler) Claim(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	t, err := h.service.Claim(c.UserContext(), c.Params("id"), req.AccountID, principal)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view(t))
}

// Cancel returns a pending transfer to the sender.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	principal, _ := c.Locals("principal_id").(string)

	t, err := h.service.Cancel(c.UserContext(), c.Params("id"), principal)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view(t))
}

// Get returns the current state of a transfer.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view(t))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, account.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotSender), errors.Is(err, ErrNotRecipient):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrExpired):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func view(t Transfer) fiber.Map {
	m := fiber.Map{
		"id":              t.ID,
		"sender_id":       t.SenderID,
		"conversation_id": t.ConversationID,
		"asset":           t.Asset,
		"amount":          t.Amount,
		"message":         t.Message,
		"state":           t.State,
		"created_at":      t.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":      t.ExpiresAt.Format(time.RFC3339Nano),
	}
	if t.RecipientID != "" {
		m["recipient_id"] = t.RecipientID
	}
	if t.ClaimantID != "" {
		m["claimant_id"] = t.ClaimantID
	}
	if t.ResolvedAt != nil {
		m["resolved_at"] = t.ResolvedAt.Format(time.RFC3339Nano)
	}
	return m
}
