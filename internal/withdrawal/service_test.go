package withdrawal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/chain"
	"github.com/lumo-chat/lumo_pay/internal/fees"
	"github.com/lumo-chat/lumo_pay/internal/guard"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
	"github.com/lumo-chat/lumo_pay/internal/sequence"

	"github.com/google/uuid"
)

type fixture struct {
	svc    *Service
	led    ledger.Ledger
	client *chain.FakeClient
	seqs   *sequence.Manager
	acct   account.Account
}

func newFixture(t *testing.T, limits guard.Limits, balance int64) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	led := ledger.NewInMemory()
	keys, err := chain.NewKeystore(chain.NewMemoryKeyRepository(), bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	accounts := account.NewService(account.NewMemoryRepository(), led, keys)

	client := chain.NewFakeClient()
	client.SetConditions(fees.Conditions{Model: fees.ModelLegacy, UnitPrice: 100})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	seqs := sequence.NewManager(sequence.NewMemoryStore(), rdb, client, 5*time.Second)

	estimator := fees.NewEstimator(client, logger)
	submitter := chain.NewSubmitter(client, keys, estimator, 3, time.Millisecond, logger)

	repo := NewMemoryRepository()
	svc := NewService(repo, led, accounts, guard.NewChecker(repo, limits), seqs, estimator, submitter, nil, logger, Config{
		Network:      "lumo-mainnet",
		ConfirmWait:  time.Second,
		PollInterval: time.Millisecond,
	})

	acct, err := accounts.Create(context.Background(), account.CreateInput{OwnerID: uuid.NewString(), Asset: "LUM"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	ledger.SeedBalance(led, ledger.AccountCode(acct.ID, "LUM"), balance)

	return &fixture{svc: svc, led: led, client: client, seqs: seqs, acct: acct}
}

func defaultLimits() guard.Limits {
	return guard.Limits{Min: 1, Max: 1_000_000}
}

func (f *fixture) request(amount int64) (Withdrawal, error) {
	return f.svc.Request(context.Background(), RequestInput{
		AccountID:       f.acct.ID,
		Asset:           "LUM",
		Destination:     "lumo1deadbeef",
		Amount:          amount,
		Tier:            fees.TierStandard,
		RequestorUserID: f.acct.OwnerID,
	})
}

func TestRequestConfirmsAndSettles(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)

	w, err := f.request(400)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.State != StateConfirmed {
		t.Fatalf("state = %s, want %s", w.State, StateConfirmed)
	}
	if w.TxRef == "" {
		t.Fatal("expected a transaction reference")
	}
	if w.ConfirmedAt == nil {
		t.Fatal("expected confirmed_at to be set")
	}

	ctx := context.Background()
	owner, _ := f.led.Balance(ctx, ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 600 {
		t.Fatalf("owner balance = %d, want 600", owner)
	}
	suspense, _ := f.led.Balance(ctx, ledger.SuspenseCode("LUM"))
	if suspense != 0 {
		t.Fatalf("suspense balance = %d, want 0", suspense)
	}
	settled, _ := f.led.Balance(ctx, ledger.SettledCode("LUM"))
	if settled != 400 {
		t.Fatalf("settled balance = %d, want 400", settled)
	}
}

func TestConcurrentRequestsNeverOverdraw(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.request(700)
		}(i)
	}
	wg.Wait()

	var confirmed, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			confirmed++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if confirmed != 1 || insufficient != 1 {
		t.Fatalf("confirmed = %d, insufficient = %d, want 1 and 1", confirmed, insufficient)
	}

	owner, _ := f.led.Balance(context.Background(), ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 300 {
		t.Fatalf("owner balance = %d, want 300", owner)
	}
}

func TestTransientFailuresRetryWithOneDebit(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)
	f.client.FailSubmits(chain.ErrTransient, chain.ErrTransient)

	w, err := f.request(250)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.State != StateConfirmed {
		t.Fatalf("state = %s, want %s", w.State, StateConfirmed)
	}
	if w.RetryCount != 3 {
		t.Fatalf("retry count = %d, want 3", w.RetryCount)
	}
	if got := len(f.client.Submissions()); got != 1 {
		t.Fatalf("accepted submissions = %d, want 1", got)
	}

	// Exactly one debit despite three attempts.
	owner, _ := f.led.Balance(context.Background(), ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 750 {
		t.Fatalf("owner balance = %d, want 750", owner)
	}
}

func TestPermanentFailureRefundsAndReleasesSequence(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)
	f.client.FailSubmits(chain.ErrPermanent)

	w, err := f.request(500)
	if !errors.Is(err, chain.ErrPermanent) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	if w.State != StateFailed {
		t.Fatalf("state = %s, want %s", w.State, StateFailed)
	}

	ctx := context.Background()
	owner, _ := f.led.Balance(ctx, ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 1000 {
		t.Fatalf("owner balance = %d, want full refund of 1000", owner)
	}
	suspense, _ := f.led.Balance(ctx, ledger.SuspenseCode("LUM"))
	if suspense != 0 {
		t.Fatalf("suspense balance = %d, want 0", suspense)
	}

	// Sequence was released, not burned; the next request goes through.
	if _, err := f.request(500); err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
}

func TestRetryExhaustionFlagsReconciliation(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)
	f.client.FailSubmits(chain.ErrTransient, chain.ErrTransient, chain.ErrTransient)

	w, err := f.request(300)
	if !errors.Is(err, chain.ErrTransient) {
		t.Fatalf("expected transient exhaustion, got %v", err)
	}
	if w.State != StateFailed {
		t.Fatalf("state = %s, want %s", w.State, StateFailed)
	}

	ctx := context.Background()
	owner, _ := f.led.Balance(ctx, ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 1000 {
		t.Fatalf("owner balance = %d, want full refund of 1000", owner)
	}

	// A give-up mid-flight blocks further submissions until reconciled.
	if _, err := f.request(300); !errors.Is(err, sequence.ErrReconciliationRequired) {
		t.Fatalf("expected reconciliation required, got %v", err)
	}
	if err := f.seqs.Recover(ctx, f.acct.ID, "lumo-mainnet", f.acct.Address); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if _, err := f.request(300); err != nil {
		t.Fatalf("request after recover: %v", err)
	}
}

func TestRollingCapRejectsWithoutDebit(t *testing.T) {
	limits := defaultLimits()
	limits.Daily = 800
	f := newFixture(t, limits, 2000)

	if _, err := f.request(600); err != nil {
		t.Fatalf("first request: %v", err)
	}

	w, err := f.request(500)
	if !errors.Is(err, guard.ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
	if w.State != StateRejected {
		t.Fatalf("state = %s, want %s", w.State, StateRejected)
	}

	// Rejection happens before any reservation.
	owner, _ := f.led.Balance(context.Background(), ledger.AccountCode(f.acct.ID, "LUM"))
	if owner != 1400 {
		t.Fatalf("owner balance = %d, want 1400", owner)
	}

	// A smaller amount still fits under the cap.
	if _, err := f.request(200); err != nil {
		t.Fatalf("request under cap: %v", err)
	}
}

func TestAmountBoundsRejected(t *testing.T) {
	limits := guard.Limits{Min: 10, Max: 100}
	f := newFixture(t, limits, 1000)

	w, err := f.request(5)
	if !errors.Is(err, guard.ErrAmountOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if w.State != StateRejected {
		t.Fatalf("state = %s, want %s", w.State, StateRejected)
	}
	if sum := ledger.EntrySum(f.led, ledger.SuspenseCode("LUM")); sum != 0 {
		t.Fatalf("suspense entries sum = %d, want 0", sum)
	}
}

func TestGetReflectsPersistedState(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)

	w, err := f.request(100)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	got, err := f.svc.Get(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateConfirmed || got.TxRef != w.TxRef {
		t.Fatalf("got %+v, want confirmed state with tx ref %s", got, w.TxRef)
	}

	if _, err := f.svc.Get(context.Background(), uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBriefSequenceContentionRetriesInsteadOfFailing(t *testing.T) {
	f := newFixture(t, defaultLimits(), 1000)

	held, err := f.seqs.Acquire(context.Background(), f.acct.ID, "lumo-mainnet", f.acct.Address)
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.seqs.Release(context.Background(), held)
	}()

	w, err := f.request(400)
	if err != nil {
		t.Fatalf("request during brief contention: %v", err)
	}
	if w.State != StateConfirmed {
		t.Fatalf("state = %s, want %s", w.State, StateConfirmed)
	}

	balance, err := f.led.Balance(context.Background(), ledger.AccountCode(f.acct.ID, "LUM"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 600 {
		t.Fatalf("balance = %d, want 600", balance)
	}
}
