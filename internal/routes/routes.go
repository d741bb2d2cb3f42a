package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/chain"
	"github.com/lumo-chat/lumo_pay/internal/config"
	"github.com/lumo-chat/lumo_pay/internal/distribution"
	"github.com/lumo-chat/lumo_pay/internal/fees"
	"github.com/lumo-chat/lumo_pay/internal/guard"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
	"github.com/lumo-chat/lumo_pay/internal/middleware"
	"github.com/lumo-chat/lumo_pay/internal/notification"
	"github.com/lumo-chat/lumo_pay/internal/sequence"
	"github.com/lumo-chat/lumo_pay/internal/sweep"
	"github.com/lumo-chat/lumo_pay/internal/transfer"
	"github.com/lumo-chat/lumo_pay/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Chain  chain.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes, and returns the
// sweep runner for the composition root to start and stop.
func Setup(app *fiber.App, d Deps) (*sweep.Runner, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Storage backends, with in-memory fallbacks for local development.
	var (
		ledgerBackend  ledger.Ledger
		accountRepo    account.Repository
		keyRepo        chain.KeyRepository
		sequenceStore  sequence.Store
		withdrawalRepo withdrawal.Repository
		transferRepo   transfer.Repository
		distRepo       distribution.Repository
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
		keyRepo = chain.NewPostgresKeyRepository(d.DB)
		sequenceStore = sequence.NewPostgresStore(d.DB)
		withdrawalRepo = withdrawal.NewPostgresRepository(d.DB)
		transferRepo = transfer.NewPostgresRepository(d.DB)
		distRepo = distribution.NewPostgresRepository(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		accountRepo = account.NewMemoryRepository()
		keyRepo = chain.NewMemoryKeyRepository()
		sequenceStore = sequence.NewMemoryStore()
		withdrawalRepo = withdrawal.NewMemoryRepository()
		transferRepo = transfer.NewMemoryRepository(ledgerBackend)
		distRepo = distribution.NewMemoryRepository(ledgerBackend)
	}

	node := d.Chain
	if node == nil {
		// Local development without a node gateway.
		fake := chain.NewFakeClient()
		fake.SetConditions(fees.Conditions{Model: fees.ModelLegacy, UnitPrice: 100})
		node = fake
	}

	keystore, err := chain.NewKeystore(keyRepo, d.Cfg.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("build keystore: %w", err)
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	estimator := fees.NewEstimator(node, d.Logger)
	submitter := chain.NewSubmitter(node, keystore, estimator, d.Cfg.SubmitRetries, d.Cfg.SubmitBackoff, d.Logger)
	sequences := sequence.NewManager(sequenceStore, d.Cache, node, d.Cfg.SequenceLeaseTTL)

	accountSvc := account.NewService(accountRepo, ledgerBackend, keystore)
	limits := guard.NewChecker(withdrawalRepo, guard.Limits{
		Min:     d.Cfg.WithdrawMin,
		Max:     d.Cfg.WithdrawMax,
		Daily:   d.Cfg.DailyCap,
		Weekly:  d.Cfg.WeeklyCap,
		Monthly: d.Cfg.MonthlyCap,
	})
	withdrawalSvc := withdrawal.NewService(withdrawalRepo, ledgerBackend, accountSvc, limits,
		sequences, estimator, submitter, notifier, d.Logger, withdrawal.Config{
			Network:      d.Cfg.Network,
			ConfirmWait:  d.Cfg.ConfirmWait,
			PollInterval: d.Cfg.PollInterval,
		})
	transferSvc := transfer.NewService(transferRepo, accountSvc, notifier, d.Logger, d.Cfg.EscrowExpiry)
	distSvc := distribution.NewService(distRepo, accountSvc, notifier, d.Logger, d.Cfg.EscrowExpiry)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Everything below requires a verified principal token.
	protected := api.Group("", middleware.Identity(d.Cfg.IdentitySecret))
	if d.Cache != nil {
		// After Identity so stored responses are scoped to the principal.
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	moneyLimit := middleware.RateLimit(d.Cache, "money", d.Cfg.RatePerMinute)

	RegisterAccountRoutes(protected, account.NewHandler(accountSvc, d.Cfg.NativeAsset))
	RegisterWithdrawalRoutes(protected, withdrawal.NewHandler(withdrawalSvc), moneyLimit)
	RegisterTransferRoutes(protected, transfer.NewHandler(transferSvc), moneyLimit)
	RegisterDistributionRoutes(protected, distribution.NewHandler(distSvc), moneyLimit)

	return sweep.NewRunner(transferSvc, distSvc, d.Cfg.SweepInterval, d.Logger), nil
}
