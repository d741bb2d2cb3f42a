package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "LumoPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	defaultNetwork          = "lumo-mainnet"
	defaultNativeAsset      = "LUM"
	defaultSequenceLeaseTTL = 15 * time.Second
	defaultSubmitRetries    = 3
	defaultSubmitBackoff    = 2 * time.Second
	defaultConfirmWait      = 20 * time.Second
	defaultPollInterval     = 3 * time.Second
	defaultEscrowExpiry     = 24 * time.Hour
	defaultSweepInterval    = time.Hour

	defaultWithdrawMin    = int64(1_000)
	defaultWithdrawMax    = int64(5_000_000_000)
	defaultDailyCap       = int64(10_000_000_000)
	defaultWeeklyCap      = int64(50_000_000_000)
	defaultMonthlyCap     = int64(150_000_000_000)
	defaultRatePerMinute  = 10
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// IdentitySecret verifies the HS256 principal tokens minted by the
	// external identity layer.
	IdentitySecret string

	// Chain access and submission behaviour.
	Network          string
	NativeAsset      string
	NodeURL          string
	KeyEncryptionKey []byte
	SequenceLeaseTTL time.Duration
	SubmitRetries    int
	SubmitBackoff    time.Duration
	ConfirmWait      time.Duration
	PollInterval     time.Duration

	// Escrow lifecycle.
	EscrowExpiry  time.Duration
	SweepInterval time.Duration

	// Guard layer.
	WithdrawMin   int64
	WithdrawMax   int64
	DailyCap      int64
	WeeklyCap     int64
	MonthlyCap    int64
	RatePerMinute int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		Env:              getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		IdentitySecret:   os.Getenv("IDENTITY_SECRET"),
		Network:          getEnv("CHAIN_NETWORK", defaultNetwork),
		NativeAsset:      getEnv("CHAIN_NATIVE_ASSET", defaultNativeAsset),
		NodeURL:          os.Getenv("CHAIN_NODE_URL"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		SequenceLeaseTTL: defaultSequenceLeaseTTL,
		SubmitRetries:    defaultSubmitRetries,
		SubmitBackoff:    defaultSubmitBackoff,
		ConfirmWait:      defaultConfirmWait,
		PollInterval:     defaultPollInterval,
		EscrowExpiry:     defaultEscrowExpiry,
		SweepInterval:    defaultSweepInterval,
		WithdrawMin:      defaultWithdrawMin,
		WithdrawMax:      defaultWithdrawMax,
		DailyCap:         defaultDailyCap,
		WeeklyCap:        defaultWeeklyCap,
		MonthlyCap:       defaultMonthlyCap,
		RatePerMinute:    defaultRatePerMinute,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SequenceLeaseTTL, err = durationEnv("SEQUENCE_LEASE_TTL", cfg.SequenceLeaseTTL); err != nil {
		return Config{}, err
	}
	if cfg.SubmitBackoff, err = durationEnv("SUBMIT_BACKOFF", cfg.SubmitBackoff); err != nil {
		return Config{}, err
	}
	if cfg.ConfirmWait, err = durationEnv("CONFIRM_WAIT", cfg.ConfirmWait); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.EscrowExpiry, err = durationEnv("ESCROW_EXPIRY", cfg.EscrowExpiry); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	if cfg.SubmitRetries, err = intEnv("SUBMIT_RETRIES", cfg.SubmitRetries); err != nil {
		return Config{}, err
	}
	if cfg.RatePerMinute, err = intEnv("RATE_PER_MINUTE", cfg.RatePerMinute); err != nil {
		return Config{}, err
	}

	if cfg.WithdrawMin, err = int64Env("WITHDRAW_MIN", cfg.WithdrawMin); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawMax, err = int64Env("WITHDRAW_MAX", cfg.WithdrawMax); err != nil {
		return Config{}, err
	}
	if cfg.DailyCap, err = int64Env("WITHDRAW_DAILY_CAP", cfg.DailyCap); err != nil {
		return Config{}, err
	}
	if cfg.WeeklyCap, err = int64Env("WITHDRAW_WEEKLY_CAP", cfg.WeeklyCap); err != nil {
		return Config{}, err
	}
	if cfg.MonthlyCap, err = int64Env("WITHDRAW_MONTHLY_CAP", cfg.MonthlyCap); err != nil {
		return Config{}, err
	}

	if kek := os.Getenv("KEY_ENCRYPTION_KEY"); kek != "" {
		raw, err := hex.DecodeString(kek)
		if err != nil {
			return Config{}, fmt.Errorf("invalid KEY_ENCRYPTION_KEY: %w", err)
		}
		if len(raw) != 32 {
			return Config{}, fmt.Errorf("KEY_ENCRYPTION_KEY must be 32 bytes, got %d", len(raw))
		}
		cfg.KeyEncryptionKey = raw
	}

	// Dev runs without external backends; routes fall back to in-memory
	// stores and the stub chain client.
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}
	if cfg.IdentitySecret == "" {
		return Config{}, fmt.Errorf("IDENTITY_SECRET must be set")
	}
	if len(cfg.KeyEncryptionKey) == 0 {
		return Config{}, fmt.Errorf("KEY_ENCRYPTION_KEY must be set")
	}

	return cfg, nil
}

// IsDev reports whether the configured environment is a local one.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
