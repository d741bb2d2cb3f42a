package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Pricing models supported by the networks the engine submits to. A network
// advertises exactly one model; the estimator resolves it once per quote and
// carries it on the bid rather than re-deriving it at call sites.
const (
	ModelLegacy  = "legacy"
	ModelTwoPart = "two_part"
)

// Fee tiers selectable per withdrawal.
const (
	TierSlow     = "slow"
	TierStandard = "standard"
	TierFast     = "fast"
)

var (
	// ErrUnknownTier indicates an unsupported fee tier was requested.
	ErrUnknownTier = errors.New("unknown fee tier")

	// ErrUnavailable indicates the fee oracle is unreachable and no
	// last-known-good quote exists to fall back on.
	ErrUnavailable = errors.New("fee oracle unavailable")
)

const (
	freshMarginPct = 120
	staleMarginPct = 150
)

// tier multipliers applied before the safety margin, in percent.
var tierPct = map[string]int64{
	TierSlow:     80,
	TierStandard: 100,
	TierFast:     140,
}

// Conditions is the raw quote observed on the network, in minor units per
// transaction weight unit.
type Conditions struct {
	Model       string
	UnitPrice   int64
	BaseFee     int64
	PriorityFee int64
}

// Bid is the priced offer attached to a submission. All amounts are minor
// units per weight unit, already padded by the safety margin.
type Bid struct {
	Model       string
	Tier        string
	UnitPrice   int64
	BaseFee     int64
	PriorityFee int64
	Stale       bool
	QuotedAt    time.Time
}

// Total returns the per-unit price the bid offers for inclusion.
func (b Bid) Total() int64 {
	if b.Model == ModelTwoPart {
		return b.BaseFee + b.PriorityFee
	}
	return b.UnitPrice
}

// Oracle supplies current fee conditions for a network. The chain client
// satisfies it.
type Oracle interface {
	FeeConditions(ctx context.Context, network string) (Conditions, error)
}

type cachedQuote struct {
	conditions Conditions
	quotedAt   time.Time
}

// Estimator prices fee bids against live network conditions, falling back to
// the last-known-good quote at a wider margin when the oracle is unreachable.
type Estimator struct {
	oracle  Oracle
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu   sync.RWMutex
	last map[string]cachedQuote
}

// NewEstimator constructs a fee estimator guarded by a circuit breaker around
// the oracle path.
func NewEstimator(oracle Oracle, logger *slog.Logger) *Estimator {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fee-oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Estimator{
		oracle:  oracle,
		breaker: breaker,
		logger:  logger,
		last:    make(map[string]cachedQuote),
	}
}

// Estimate computes a fee bid for the given network and tier. Fresh quotes
// carry a 1.2x safety margin against price movement before inclusion; stale
// fallbacks widen to 1.5x and are flagged.
func (e *Estimator) Estimate(ctx context.Context, network, tier string) (Bid, error) {
	pct, ok := tierPct[tier]
	if !ok {
		return Bid{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	res, err := e.breaker.Execute(func() (interface{}, error) {
		return e.oracle.FeeConditions(ctx, network)
	})
	if err != nil {
		return e.staleBid(network, tier, pct, err)
	}

	conditions := res.(Conditions)
	now := time.Now().UTC()

	e.mu.Lock()
	e.last[network] = cachedQuote{conditions: conditions, quotedAt: now}
	e.mu.Unlock()

	return priceBid(conditions, tier, pct, freshMarginPct, false, now), nil
}

func (e *Estimator) staleBid(network, tier string, pct int64, cause error) (Bid, error) {
	e.mu.RLock()
	quote, ok := e.last[network]
	e.mu.RUnlock()
	if !ok {
		return Bid{}, fmt.Errorf("%w: %v", ErrUnavailable, cause)
	}

	e.logger.Warn("fee oracle unreachable, using last-known-good quote",
		"network", network, "quoted_at", quote.quotedAt, "error", cause)
	return priceBid(quote.conditions, tier, pct, staleMarginPct, true, quote.quotedAt), nil
}

func priceBid(c Conditions, tier string, tierPct, marginPct int64, stale bool, quotedAt time.Time) Bid {
	bid := Bid{Model: c.Model, Tier: tier, Stale: stale, QuotedAt: quotedAt}
	switch c.Model {
	case ModelTwoPart:
		// The base component is set by the network; only the priority part
		// responds to the tier.
		bid.BaseFee = applyPct(c.BaseFee, marginPct)
		bid.PriorityFee = applyPct(applyPct(c.PriorityFee, tierPct), marginPct)
	default:
		bid.Model = ModelLegacy
		bid.UnitPrice = applyPct(applyPct(c.UnitPrice, tierPct), marginPct)
	}
	return bid
}

func applyPct(v, pct int64) int64 {
	out := v * pct / 100
	if v > 0 && out < 1 {
		out = 1
	}
	return out
}
