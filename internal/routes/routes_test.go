package routes

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumo-chat/lumo_pay/internal/config"
	"github.com/lumo-chat/lumo_pay/internal/logging"
)

func devConfig() config.Config {
	return config.Config{
		Env:              "development",
		IdentitySecret:   "test-secret",
		KeyEncryptionKey: make([]byte, 32),
		Network:          "lumo-testnet",
		NativeAsset:      "LUM",
		SequenceLeaseTTL: 15 * time.Second,
		SubmitRetries:    3,
		SubmitBackoff:    time.Millisecond,
		ConfirmWait:      time.Second,
		PollInterval:     time.Millisecond,
		EscrowExpiry:     24 * time.Hour,
		SweepInterval:    time.Hour,
		IdempotencyTTL:   time.Minute,
		RatePerMinute:    10,
	}
}

// Without DB and Redis the in-memory stores and the stub chain client stand
// in, so the full HTTP surface wires up for local development.
func TestSetupDevFallbackServesWithoutBackends(t *testing.T) {
	app := fiber.New()
	runner, err := Setup(app, Deps{Cfg: devConfig(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if runner == nil {
		t.Fatal("expected a sweep runner")
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/ping", nil))
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("ping status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	resp.Body.Close()
}

func TestSetupProtectedRoutesRejectWithoutToken(t *testing.T) {
	app := fiber.New()
	if _, err := Setup(app, Deps{Cfg: devConfig(), Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/accounts", nil))
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	resp.Body.Close()
}

func TestSetupOutsideDevRequiresBackends(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"

	if _, err := Setup(fiber.New(), Deps{Cfg: cfg, Logger: logging.Discard()}); err == nil {
		t.Fatal("expected error without database outside dev")
	}
}
