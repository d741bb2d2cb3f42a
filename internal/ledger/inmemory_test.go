package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryLedger_PostMaintainsBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if err := l.EnsureAccount(ctx, "acct:a:LUM"); err != nil {
		t.Fatalf("ensure account a: %v", err)
	}
	if err := l.EnsureAccount(ctx, "acct:b:LUM"); err != nil {
		t.Fatalf("ensure account b: %v", err)
	}

	SeedBalance(l, "acct:a:LUM", 10_000)

	res, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindTransferEscrow, "client-1", 1_500)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}

	if res.FromBalance != 8_500 {
		t.Fatalf("expected from balance 8500, got %d", res.FromBalance)
	}
	if res.ToBalance != 1_500 {
		t.Fatalf("expected to balance 1500, got %d", res.ToBalance)
	}

	ledgerImpl := l.(*inMemoryLedger)
	total := ledgerImpl.balances["acct:a:LUM"] + ledgerImpl.balances["acct:b:LUM"]
	if total != 10_000 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestInMemoryLedger_BalanceDerivesFromEntries(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "acct:a:LUM")
	l.EnsureAccount(ctx, "acct:b:LUM")
	SeedBalance(l, "acct:a:LUM", 50_000)

	for i := 0; i < 5; i++ {
		if _, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindTransferEscrow, fmt.Sprintf("tx-%d", i), 1_000); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}

	if sum := EntrySum(l, "acct:b:LUM"); sum != 5_000 {
		t.Fatalf("expected entry sum 5000, got %d", sum)
	}
	bal, err := l.Balance(ctx, "acct:b:LUM")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != EntrySum(l, "acct:b:LUM") {
		t.Fatalf("balance %d does not equal entry sum %d", bal, EntrySum(l, "acct:b:LUM"))
	}
}

func TestInMemoryLedger_DuplicatePosting(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "acct:a:LUM")
	l.EnsureAccount(ctx, "acct:b:LUM")
	SeedBalance(l, "acct:a:LUM", 5_000)

	if _, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindTransferEscrow, "dup", 500); err != nil {
		t.Fatalf("initial post failed: %v", err)
	}
	if _, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindTransferEscrow, "dup", 500); err != ErrDuplicatePosting {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentDebits(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "acct:a:LUM")
	l.EnsureAccount(ctx, "acct:b:LUM")
	SeedBalance(l, "acct:a:LUM", 100_000)
	ledgerImpl := l.(*inMemoryLedger)

	const workers = 10
	const amount = int64(500)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := fmt.Sprintf("tx-%d", i)
			if _, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindWithdrawal, txID, amount); err != nil {
				t.Errorf("post %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	total := ledgerImpl.balances["acct:a:LUM"] + ledgerImpl.balances["acct:b:LUM"]
	if total != 100_000 {
		t.Fatalf("ledger not balanced after concurrency, total=%d", total)
	}
}

func TestInMemoryLedger_ConcurrentDebitsExceedingBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "acct:a:LUM")
	l.EnsureAccount(ctx, "suspense:chain:LUM")
	SeedBalance(l, "acct:a:LUM", 1_000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Post(ctx, "acct:a:LUM", "suspense:chain:LUM", KindWithdrawal, fmt.Sprintf("w-%d", i), 700); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d", succeeded)
	}
	bal, _ := l.Balance(ctx, "acct:a:LUM")
	if bal != 300 {
		t.Fatalf("expected remaining balance 300, got %d", bal)
	}
}

func TestInMemoryLedger_History(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "acct:a:LUM")
	l.EnsureAccount(ctx, "acct:b:LUM")
	SeedBalance(l, "acct:a:LUM", 10_000)

	for i := 0; i < 3; i++ {
		if _, err := l.Post(ctx, "acct:a:LUM", "acct:b:LUM", KindTransferEscrow, fmt.Sprintf("h-%d", i), 100); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}

	entries, err := l.History(ctx, "acct:a:LUM", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Delta != -100 || entries[0].Kind != KindTransferEscrow {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	rest, err := l.History(ctx, "acct:a:LUM", 10, 2)
	if err != nil {
		t.Fatalf("history offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(rest))
	}
}
