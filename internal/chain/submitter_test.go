package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumo-chat/lumo_pay/internal/fees"
	"github.com/lumo-chat/lumo_pay/internal/logging"
)

func newTestSubmitter(t *testing.T, client *FakeClient) (*Submitter, string) {
	t.Helper()
	ks, err := NewKeystore(NewMemoryKeyRepository(), testKEK())
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	accountID := uuid.NewString()
	if _, err := ks.Generate(context.Background(), accountID); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	estimator := fees.NewEstimator(client, logging.Discard())
	return NewSubmitter(client, ks, estimator, 3, time.Millisecond, logging.Discard()), accountID
}

func testTxRequest() TxRequest {
	return TxRequest{
		Network:     "lumo-mainnet",
		From:        "lumo1from",
		To:          "lumo1to",
		Asset:       "LUM",
		Amount:      5_000,
		Correlation: "w-test",
	}
}

func TestSubmitSucceedsFirstAttempt(t *testing.T) {
	client := NewFakeClient()
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	handle, attempts, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 3, bid)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if handle.Hash == "" {
		t.Fatal("expected transaction hash")
	}
}

func TestSubmitRetriesTransientWithSameSequence(t *testing.T) {
	client := NewFakeClient()
	client.FailSubmits(
		fmt.Errorf("%w: timeout", ErrTransient),
		fmt.Errorf("%w: connection reset", ErrTransient),
		nil,
	)
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	_, attempts, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 9, bid)
	if err != nil {
		t.Fatalf("submit after transient failures: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	// Exactly one payload was accepted by the network.
	submissions := client.Submissions()
	if len(submissions) != 1 {
		t.Fatalf("expected 1 accepted submission, got %d", len(submissions))
	}
}

func TestSubmitAbortsOnPermanentFailure(t *testing.T) {
	client := NewFakeClient()
	client.FailSubmits(fmt.Errorf("%w: malformed tx", ErrPermanent))
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	_, attempts, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 1, bid)
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent failure must not consume retries, got %d attempts", attempts)
	}
}

func TestSubmitGivesUpAfterRetryBound(t *testing.T) {
	client := NewFakeClient()
	client.FailSubmits(
		fmt.Errorf("%w: timeout", ErrTransient),
		fmt.Errorf("%w: timeout", ErrTransient),
		fmt.Errorf("%w: timeout", ErrTransient),
	)
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	_, attempts, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 2, bid)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(client.Submissions()) != 0 {
		t.Fatal("no submission should have been accepted")
	}
}

func TestSubmitResubmitsIdenticalBytesWhenFeeUnchanged(t *testing.T) {
	client := NewFakeClient()
	client.FailSubmits(fmt.Errorf("%w: timeout", ErrTransient), nil)
	submitter, accountID := newTestSubmitter(t, client)

	// Warm the estimator so the retry recomputes an identical bid.
	bid, err := submitter.estimator.Estimate(context.Background(), "lumo-mainnet", fees.TierStandard)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	_, _, err = submitter.Submit(context.Background(), accountID, testTxRequest(), 4, bid)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	unsigned, err := Build(testTxRequest(), 4, bid)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	accepted := client.Submissions()
	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted submission, got %d", len(accepted))
	}
	if !bytes.HasPrefix(accepted[0], unsigned.Payload()) {
		t.Fatal("retried submission does not carry the original sequence payload")
	}
}

func TestAwaitFinalityBoundedWait(t *testing.T) {
	client := NewFakeClient()
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	handle, _, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 1, bid)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	client.ScriptStatus(handle.Hash, StatusPending, StatusIncluded, StatusFinalized)
	status, err := submitter.AwaitFinality(context.Background(), handle, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("await finality: %v", err)
	}
	if status != StatusFinalized {
		t.Fatalf("expected finalized, got %s", status)
	}
}

func TestAwaitFinalityReturnsLastStatusOnWindowExpiry(t *testing.T) {
	client := NewFakeClient()
	submitter, accountID := newTestSubmitter(t, client)

	bid := fees.Bid{Model: fees.ModelLegacy, Tier: fees.TierStandard, UnitPrice: 120}
	handle, _, err := submitter.Submit(context.Background(), accountID, testTxRequest(), 1, bid)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	client.ScriptStatus(handle.Hash, StatusIncluded)
	status, err := submitter.AwaitFinality(context.Background(), handle, 10*time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("await finality: %v", err)
	}
	if status != StatusIncluded {
		t.Fatalf("expected included after window expiry, got %s", status)
	}
}
