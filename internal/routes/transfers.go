package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/transfer"
)

// RegisterTransferRoutes mounts escrow transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, rateLimit fiber.Handler) {
	r.Post("/transfers", rateLimit, h.Create)
	r.Post("/transfers/:id/claim", rateLimit, h.Claim)
	r.Post("/transfers/:id/cancel", h.Cancel)
	r.Get("/transfers/:id", h.Get)
}
