package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/distribution"
)

// RegisterDistributionRoutes mounts distribution endpoints.
func RegisterDistributionRoutes(r fiber.Router, h *distribution.Handler, rateLimit fiber.Handler) {
	r.Post("/distributions", rateLimit, h.Create)
	r.Post("/distributions/:id/claim", rateLimit, h.Claim)
	r.Post("/distributions/:id/cancel", h.Cancel)
	r.Get("/distributions/:id", h.Get)
}
