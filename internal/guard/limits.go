package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAmountOutOfRange indicates the amount violates per-transaction
	// minimum/maximum bounds.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrLimitExceeded indicates a rolling cumulative withdrawal cap would be
	// exceeded.
	ErrLimitExceeded = errors.New("withdrawal limit exceeded")
)

// Limits carries the per-transaction bounds and rolling cumulative caps, in
// minor units.
type Limits struct {
	Min     int64
	Max     int64
	Daily   int64
	Weekly  int64
	Monthly int64
}

// WithdrawalTotals reports the cumulative amount an account withdrew since a
// point in time, counting every request that reserved funds (Rejected ones
// never did, Failed ones were refunded). The withdrawal repository satisfies
// it.
type WithdrawalTotals interface {
	TotalSince(ctx context.Context, accountID string, since time.Time) (int64, error)
}

// Checker enforces the withdrawal amount limits shared by all entry points.
type Checker struct {
	totals WithdrawalTotals
	limits Limits
}

// NewChecker builds a limit checker.
func NewChecker(totals WithdrawalTotals, limits Limits) *Checker {
	return &Checker{totals: totals, limits: limits}
}

// CheckWithdrawal validates the amount against per-transaction bounds and the
// rolling daily/weekly/monthly caps.
func (c *Checker) CheckWithdrawal(ctx context.Context, accountID string, amount int64) error {
	if amount < c.limits.Min || amount > c.limits.Max {
		return fmt.Errorf("%w: amount %d outside [%d, %d]", ErrAmountOutOfRange, amount, c.limits.Min, c.limits.Max)
	}

	now := time.Now().UTC()
	windows := []struct {
		name  string
		since time.Time
		cap   int64
	}{
		{"daily", now.Add(-24 * time.Hour), c.limits.Daily},
		{"weekly", now.Add(-7 * 24 * time.Hour), c.limits.Weekly},
		{"monthly", now.Add(-30 * 24 * time.Hour), c.limits.Monthly},
	}

	for _, w := range windows {
		if w.cap <= 0 {
			continue
		}
		total, err := c.totals.TotalSince(ctx, accountID, w.since)
		if err != nil {
			return fmt.Errorf("compute %s total: %w", w.name, err)
		}
		if total+amount > w.cap {
			return fmt.Errorf("%w: %s cap %d, already withdrawn %d", ErrLimitExceeded, w.name, w.cap, total)
		}
	}
	return nil
}
