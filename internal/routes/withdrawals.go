package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/withdrawal"
)

// RegisterWithdrawalRoutes mounts withdrawal endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, rateLimit fiber.Handler) {
	r.Post("/withdrawals", rateLimit, h.Request)
	r.Get("/withdrawals/:id", h.Get)
}
