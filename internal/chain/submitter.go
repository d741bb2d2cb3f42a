package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumo-chat/lumo_pay/internal/fees"
)

// Handle references a submitted transaction for status polling.
type Handle struct {
	Network string
	Hash    string
}

// Submitter signs and submits transactions and polls their confirmation.
// Transient failures are retried with the same sequence number and a
// recomputed fee bid; permanent failures abort immediately.
type Submitter struct {
	client    Client
	keys      *Keystore
	estimator *fees.Estimator
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

// NewSubmitter wires the submitter's collaborators.
func NewSubmitter(client Client, keys *Keystore, estimator *fees.Estimator, retries int, backoff time.Duration, logger *slog.Logger) *Submitter {
	if retries < 1 {
		retries = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Submitter{client: client, keys: keys, estimator: estimator, retries: retries, backoff: backoff, logger: logger}
}

// Submit signs the request under the account's custodial key and submits it,
// retrying transient failures up to the configured bound. Every attempt
// reuses the provided sequence number; the fee bid alone is recomputed so a
// retried transaction can still win inclusion if prices moved.
func (s *Submitter) Submit(ctx context.Context, accountID string, req TxRequest, sequence uint64, bid fees.Bid) (Handle, int, error) {
	backoff := s.backoff
	var lastErr error

	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			if rebid, err := s.estimator.Estimate(ctx, req.Network, bid.Tier); err == nil {
				bid = rebid
			}
			select {
			case <-ctx.Done():
				return Handle{}, attempt, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		unsigned, err := Build(req, sequence, bid)
		if err != nil {
			return Handle{}, attempt, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		sig, err := s.keys.Sign(ctx, accountID, unsigned.SigningHash())
		if err != nil {
			return Handle{}, attempt, fmt.Errorf("%w: %v", ErrPermanent, err)
		}

		hash, err := s.client.Submit(ctx, req.Network, EncodeSigned(unsigned, sig))
		if err == nil {
			return Handle{Network: req.Network, Hash: hash}, attempt + 1, nil
		}
		if errors.Is(err, ErrPermanent) {
			return Handle{}, attempt + 1, err
		}

		lastErr = err
		s.logger.Warn("submission attempt failed",
			"network", req.Network, "sequence", sequence, "attempt", attempt+1, "error", err)
	}

	return Handle{}, s.retries, fmt.Errorf("%w: retries exhausted: %v", ErrTransient, lastErr)
}

// PollStatus reports the network's current view of the transaction.
func (s *Submitter) PollStatus(ctx context.Context, h Handle) (Status, error) {
	return s.client.TxStatus(ctx, h.Network, h.Hash)
}

// AwaitFinality polls until the transaction finalizes, is rejected, the wait
// window elapses or the context is cancelled. On window expiry it returns the
// last observed status without error; the caller switches to asynchronous
// polling, since an accepted submission cannot be cancelled.
func (s *Submitter) AwaitFinality(ctx context.Context, h Handle, wait, interval time.Duration) (Status, error) {
	deadline := time.Now().Add(wait)
	last := StatusPending

	for {
		status, err := s.client.TxStatus(ctx, h.Network, h.Hash)
		if err == nil {
			last = status
			if status == StatusFinalized || status == StatusRejected {
				return status, nil
			}
		} else if !errors.Is(err, ErrTransient) {
			return last, err
		}

		if time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
}
