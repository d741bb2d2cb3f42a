package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/account"
)

// RegisterAccountRoutes mounts custodial account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/history", h.History)
}
