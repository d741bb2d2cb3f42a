package guard

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubTotals struct {
	daily   int64
	weekly  int64
	monthly int64
}

func (s *stubTotals) TotalSince(_ context.Context, _ string, since time.Time) (int64, error) {
	age := time.Since(since)
	switch {
	case age < 2*24*time.Hour:
		return s.daily, nil
	case age < 8*24*time.Hour:
		return s.weekly, nil
	default:
		return s.monthly, nil
	}
}

func testLimits() Limits {
	return Limits{Min: 100, Max: 10_000, Daily: 20_000, Weekly: 50_000, Monthly: 100_000}
}

func TestCheckWithdrawalWithinLimits(t *testing.T) {
	c := NewChecker(&stubTotals{}, testLimits())
	if err := c.CheckWithdrawal(context.Background(), "acct", 5_000); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestCheckWithdrawalAmountBounds(t *testing.T) {
	c := NewChecker(&stubTotals{}, testLimits())

	if err := c.CheckWithdrawal(context.Background(), "acct", 50); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange below min, got %v", err)
	}
	if err := c.CheckWithdrawal(context.Background(), "acct", 20_000); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange above max, got %v", err)
	}
}

func TestCheckWithdrawalDailyCap(t *testing.T) {
	c := NewChecker(&stubTotals{daily: 19_500}, testLimits())
	if err := c.CheckWithdrawal(context.Background(), "acct", 1_000); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if err := c.CheckWithdrawal(context.Background(), "acct", 500); err != nil {
		t.Fatalf("expected exact fit to pass, got %v", err)
	}
}

func TestCheckWithdrawalMonthlyCap(t *testing.T) {
	c := NewChecker(&stubTotals{monthly: 99_900}, testLimits())
	if err := c.CheckWithdrawal(context.Background(), "acct", 200); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected monthly ErrLimitExceeded, got %v", err)
	}
}
