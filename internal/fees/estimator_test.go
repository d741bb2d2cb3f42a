package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/lumo-chat/lumo_pay/internal/logging"
)

type stubOracle struct {
	conditions Conditions
	err        error
	calls      int
}

func (o *stubOracle) FeeConditions(_ context.Context, _ string) (Conditions, error) {
	o.calls++
	if o.err != nil {
		return Conditions{}, o.err
	}
	return o.conditions, nil
}

func TestEstimateLegacyModel(t *testing.T) {
	oracle := &stubOracle{conditions: Conditions{Model: ModelLegacy, UnitPrice: 100}}
	est := NewEstimator(oracle, logging.Discard())

	bid, err := est.Estimate(context.Background(), "lumo-mainnet", TierStandard)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if bid.Model != ModelLegacy {
		t.Fatalf("expected legacy model, got %s", bid.Model)
	}
	// 100 * 1.0 tier * 1.2 margin
	if bid.UnitPrice != 120 {
		t.Fatalf("expected unit price 120, got %d", bid.UnitPrice)
	}
	if bid.Stale {
		t.Fatal("fresh quote must not be stale")
	}
}

func TestEstimateTwoPartModel(t *testing.T) {
	oracle := &stubOracle{conditions: Conditions{Model: ModelTwoPart, BaseFee: 50, PriorityFee: 10}}
	est := NewEstimator(oracle, logging.Discard())

	bid, err := est.Estimate(context.Background(), "lumo-mainnet", TierFast)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	// base: 50 * 1.2 = 60; priority: 10 * 1.4 tier * 1.2 margin = 16
	if bid.BaseFee != 60 {
		t.Fatalf("expected base fee 60, got %d", bid.BaseFee)
	}
	if bid.PriorityFee != 16 {
		t.Fatalf("expected priority fee 16, got %d", bid.PriorityFee)
	}
	if bid.Total() != 76 {
		t.Fatalf("expected total 76, got %d", bid.Total())
	}
}

func TestEstimateTierScaling(t *testing.T) {
	oracle := &stubOracle{conditions: Conditions{Model: ModelLegacy, UnitPrice: 100}}
	est := NewEstimator(oracle, logging.Discard())
	ctx := context.Background()

	slow, _ := est.Estimate(ctx, "net", TierSlow)
	standard, _ := est.Estimate(ctx, "net", TierStandard)
	fast, _ := est.Estimate(ctx, "net", TierFast)

	if !(slow.UnitPrice < standard.UnitPrice && standard.UnitPrice < fast.UnitPrice) {
		t.Fatalf("tiers not ordered: slow=%d standard=%d fast=%d",
			slow.UnitPrice, standard.UnitPrice, fast.UnitPrice)
	}
}

func TestEstimateStaleFallback(t *testing.T) {
	oracle := &stubOracle{conditions: Conditions{Model: ModelLegacy, UnitPrice: 100}}
	est := NewEstimator(oracle, logging.Discard())
	ctx := context.Background()

	if _, err := est.Estimate(ctx, "net", TierStandard); err != nil {
		t.Fatalf("warmup estimate: %v", err)
	}

	oracle.err = errors.New("oracle down")
	bid, err := est.Estimate(ctx, "net", TierStandard)
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if !bid.Stale {
		t.Fatal("expected bid flagged stale")
	}
	// 100 * 1.0 tier * 1.5 stale margin
	if bid.UnitPrice != 150 {
		t.Fatalf("expected stale unit price 150, got %d", bid.UnitPrice)
	}
}

func TestEstimateUnavailableWithoutCache(t *testing.T) {
	oracle := &stubOracle{err: errors.New("oracle down")}
	est := NewEstimator(oracle, logging.Discard())

	if _, err := est.Estimate(context.Background(), "net", TierStandard); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEstimateBreakerStopsHammeringOracle(t *testing.T) {
	oracle := &stubOracle{conditions: Conditions{Model: ModelLegacy, UnitPrice: 100}}
	est := NewEstimator(oracle, logging.Discard())
	ctx := context.Background()

	if _, err := est.Estimate(ctx, "net", TierStandard); err != nil {
		t.Fatalf("warmup estimate: %v", err)
	}

	oracle.err = errors.New("oracle down")
	for i := 0; i < 6; i++ {
		if _, err := est.Estimate(ctx, "net", TierStandard); err != nil {
			t.Fatalf("stale fallback %d: %v", i, err)
		}
	}

	// Breaker opens after three consecutive failures; later estimates stop
	// reaching the oracle.
	if oracle.calls >= 7 {
		t.Fatalf("breaker never opened, oracle called %d times", oracle.calls)
	}
}

func TestEstimateUnknownTier(t *testing.T) {
	est := NewEstimator(&stubOracle{}, logging.Discard())
	if _, err := est.Estimate(context.Background(), "net", "warp"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}
