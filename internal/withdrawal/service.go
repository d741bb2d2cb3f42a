package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/chain"
	"github.com/lumo-chat/lumo_pay/internal/fees"
	"github.com/lumo-chat/lumo_pay/internal/guard"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
	"github.com/lumo-chat/lumo_pay/internal/notification"
	"github.com/lumo-chat/lumo_pay/internal/sequence"
)

const (
	// Sequence lock contention from a sibling request usually clears in
	// well under a second.
	acquireAttempts = 3
	acquireBackoff  = 100 * time.Millisecond
)

var (
	// ErrNotOwner indicates the caller does not own the withdrawing account.
	ErrNotOwner = errors.New("not owner of account")

	// ErrValidation indicates a malformed withdrawal request.
	ErrValidation = errors.New("invalid withdrawal request")
)

// Service drives a withdrawal from custodial debit through on-chain
// settlement. Funds move to a suspense account before anything is signed, so
// every request ends in exactly one of two places: a confirmed on-chain
// spend, or a compensating credit back to the owner.
type Service struct {
	repo      Repository
	ledger    ledger.Ledger
	accounts  *account.Service
	guard     *guard.Checker
	sequences *sequence.Manager
	estimator *fees.Estimator
	submitter *chain.Submitter
	notifier  notification.Notifier
	logger    *slog.Logger

	network      string
	confirmWait  time.Duration
	pollInterval time.Duration
}

// Config carries the network parameters the service submits under.
type Config struct {
	Network      string
	ConfirmWait  time.Duration
	PollInterval time.Duration
}

// NewService wires the withdrawal pipeline.
func NewService(repo Repository, ledgerBackend ledger.Ledger, accounts *account.Service,
	limits *guard.Checker, sequences *sequence.Manager, estimator *fees.Estimator,
	submitter *chain.Submitter, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Service{
		repo:         repo,
		ledger:       ledgerBackend,
		accounts:     accounts,
		guard:        limits,
		sequences:    sequences,
		estimator:    estimator,
		submitter:    submitter,
		notifier:     notifier,
		logger:       logger,
		network:      cfg.Network,
		confirmWait:  cfg.ConfirmWait,
		pollInterval: cfg.PollInterval,
	}
}

// RequestInput captures the data needed to start a withdrawal.
type RequestInput struct {
	AccountID       string
	Asset           string
	Destination     string
	Amount          int64
	Tier            string
	RequestorUserID string
}

// Request validates, debits and submits a withdrawal. The returned row
// reflects the state reached synchronously; a withdrawal still in flight when
// the confirmation window closes stays Submitted and finalizes in the
// background.
func (s *Service) Request(ctx context.Context, input RequestInput) (Withdrawal, error) {
	if input.Amount <= 0 {
		return Withdrawal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.Destination == "" {
		return Withdrawal{}, fmt.Errorf("%w: destination required", ErrValidation)
	}
	if input.Tier == "" {
		input.Tier = fees.TierStandard
	}

	acct, err := s.accounts.Get(ctx, input.AccountID)
	if err != nil {
		return Withdrawal{}, err
	}
	if input.RequestorUserID != "" && acct.OwnerID != input.RequestorUserID {
		return Withdrawal{}, ErrNotOwner
	}

	now := time.Now().UTC()
	w := Withdrawal{
		ID:          uuid.New().String(),
		AccountID:   acct.ID,
		Asset:       input.Asset,
		Destination: input.Destination,
		Amount:      input.Amount,
		Tier:        input.Tier,
		State:       StateRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.guard.CheckWithdrawal(ctx, acct.ID, input.Amount); err != nil {
		w.State = StateRejected
		w.FailureReason = err.Error()
		if createErr := s.repo.Create(ctx, w); createErr != nil {
			return Withdrawal{}, createErr
		}
		return w, err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return Withdrawal{}, err
	}

	// Pessimistic debit into suspense. If anything after this point fails
	// without an on-chain spend, reverse exactly this posting.
	from := ledger.AccountCode(acct.ID, input.Asset)
	suspense := ledger.SuspenseCode(input.Asset)
	if err := s.ledger.EnsureAccount(ctx, suspense); err != nil {
		return s.reject(ctx, w, err)
	}
	if _, err := s.ledger.Post(ctx, from, suspense, ledger.KindWithdrawal, w.ID, w.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return s.reject(ctx, w, err)
		}
		return s.reject(ctx, w, err)
	}
	w = s.transition(ctx, w, StateValidated, "")

	lease, err := s.acquireSequence(ctx, acct.ID, acct.Address)
	if err != nil {
		return s.fail(ctx, w, acct.OwnerID, err)
	}

	bid, err := s.estimator.Estimate(ctx, s.network, w.Tier)
	if err != nil {
		s.releaseLease(ctx, lease)
		return s.fail(ctx, w, acct.OwnerID, err)
	}

	req := chain.TxRequest{
		Network:     s.network,
		From:        acct.Address,
		To:          w.Destination,
		Asset:       w.Asset,
		Amount:      w.Amount,
		Correlation: w.ID,
	}
	handle, attempts, err := s.submitter.Submit(ctx, acct.ID, req, lease.Sequence, bid)
	w.RetryCount = attempts
	if err != nil {
		if errors.Is(err, chain.ErrPermanent) {
			// Nothing was accepted by the network; the sequence is unused.
			s.releaseLease(ctx, lease)
		} else {
			// Gave up mid-flight. A submission may still land, so the local
			// counter cannot be trusted until reconciled against the chain.
			// The recovery flag gates acquisitions, so the lock can go.
			if recErr := s.sequences.RequireRecovery(ctx, acct.ID, s.network); recErr != nil {
				s.logger.Error("flag sequence recovery", "account_id", acct.ID, "error", recErr)
			}
			s.releaseLease(ctx, lease)
		}
		return s.fail(ctx, w, acct.OwnerID, err)
	}

	w.TxRef = handle.Hash
	w = s.transition(ctx, w, StateSubmitted, "")
	s.notify(ctx, acct.OwnerID, notification.KindWithdrawalSubmitted, w,
		fmt.Sprintf("Withdrawal of %d %s submitted", w.Amount, w.Asset))

	status, err := s.submitter.AwaitFinality(ctx, handle, s.confirmWait, s.pollInterval)
	if err != nil {
		s.logger.Warn("confirmation polling failed", "withdrawal_id", w.ID, "error", err)
	}
	switch status {
	case chain.StatusFinalized:
		return s.confirm(ctx, w, acct.OwnerID, lease)
	case chain.StatusRejected:
		// The network refused the transaction, so the sequence was never
		// consumed and the debit must come back.
		s.releaseLease(ctx, lease)
		return s.fail(ctx, w, acct.OwnerID, fmt.Errorf("%w: rejected by network", chain.ErrPermanent))
	default:
		go s.finalizeAsync(w, acct.OwnerID, handle, lease)
		return w, nil
	}
}

// Get fetches the authoritative state of a withdrawal.
// acquireSequence retries briefly on lock contention so back-to-back
// withdrawals from one account do not burn a failed row while a sibling
// request is mid-flight.
func (s *Service) acquireSequence(ctx context.Context, accountID, address string) (sequence.Lease, error) {
	var lease sequence.Lease
	var err error
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		lease, err = s.sequences.Acquire(ctx, accountID, s.network, address)
		if !errors.Is(err, sequence.ErrLocked) || attempt == acquireAttempts-1 {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return sequence.Lease{}, ctx.Err()
		case <-time.After(acquireBackoff):
		}
	}
	return lease, err
}

func (s *Service) Get(ctx context.Context, id string) (Withdrawal, error) {
	return s.repo.Get(ctx, id)
}

// finalizeAsync keeps polling a submitted withdrawal after the synchronous
// confirmation window closed. An accepted submission cannot be cancelled, so
// this never refunds on a timeout, only on explicit network rejection.
func (s *Service) finalizeAsync(w Withdrawal, ownerID string, handle chain.Handle, lease sequence.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 24*time.Hour)
	defer cancel()

	for {
		status, err := s.submitter.AwaitFinality(ctx, handle, s.confirmWait, s.pollInterval)
		if err != nil {
			s.logger.Error("background confirmation failed", "withdrawal_id", w.ID, "error", err)
			return
		}
		switch status {
		case chain.StatusFinalized:
			if _, err := s.confirm(ctx, w, ownerID, lease); err != nil {
				s.logger.Error("confirm withdrawal", "withdrawal_id", w.ID, "error", err)
			}
			return
		case chain.StatusRejected:
			s.releaseLease(ctx, lease)
			if _, err := s.fail(ctx, w, ownerID, fmt.Errorf("%w: rejected by network", chain.ErrPermanent)); err != nil {
				s.logger.Error("fail withdrawal", "withdrawal_id", w.ID, "error", err)
			}
			return
		case chain.StatusPending, chain.StatusIncluded:
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// confirm settles a finalized withdrawal: the sequence is consumed and the
// suspense debit moves to the settled sink.
func (s *Service) confirm(ctx context.Context, w Withdrawal, ownerID string, lease sequence.Lease) (Withdrawal, error) {
	if err := s.sequences.MarkUsed(ctx, lease); err != nil {
		// The counter no longer advanced under our lease; reconcile before
		// this account submits again. The withdrawal itself is final.
		s.logger.Error("mark sequence used", "withdrawal_id", w.ID, "error", err)
		if recErr := s.sequences.RequireRecovery(ctx, w.AccountID, s.network); recErr != nil {
			s.logger.Error("flag sequence recovery", "account_id", w.AccountID, "error", recErr)
		}
	}

	suspense := ledger.SuspenseCode(w.Asset)
	settled := ledger.SettledCode(w.Asset)
	if err := s.ledger.EnsureAccount(ctx, settled); err != nil {
		return w, err
	}
	if _, err := s.ledger.Post(ctx, suspense, settled, ledger.KindWithdrawalSettle, w.ID, w.Amount); err != nil &&
		!errors.Is(err, ledger.ErrDuplicatePosting) {
		return w, err
	}

	now := time.Now().UTC()
	w.ConfirmedAt = &now
	w = s.transition(ctx, w, StateConfirmed, "")
	s.notify(ctx, ownerID, notification.KindWithdrawalConfirmed, w,
		fmt.Sprintf("Withdrawal of %d %s confirmed on-chain", w.Amount, w.Asset))
	return w, nil
}

// fail reverses the suspense debit and records the terminal failure.
func (s *Service) fail(ctx context.Context, w Withdrawal, ownerID string, cause error) (Withdrawal, error) {
	suspense := ledger.SuspenseCode(w.Asset)
	to := ledger.AccountCode(w.AccountID, w.Asset)
	if _, err := s.ledger.Post(ctx, suspense, to, ledger.KindWithdrawalRefund, w.ID, w.Amount); err != nil &&
		!errors.Is(err, ledger.ErrDuplicatePosting) {
		s.logger.Error("compensating credit failed", "withdrawal_id", w.ID, "error", err)
		return w, err
	}
	w = s.transition(ctx, w, StateFailed, cause.Error())
	s.notify(ctx, ownerID, notification.KindWithdrawalFailed, w,
		fmt.Sprintf("Withdrawal of %d %s failed and was refunded", w.Amount, w.Asset))
	return w, cause
}

// reject records a request that never reserved funds.
func (s *Service) reject(ctx context.Context, w Withdrawal, cause error) (Withdrawal, error) {
	w = s.transition(ctx, w, StateRejected, cause.Error())
	return w, cause
}

func (s *Service) transition(ctx context.Context, w Withdrawal, state, reason string) Withdrawal {
	w.State = state
	w.FailureReason = reason
	w.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, w); err != nil {
		s.logger.Error("persist withdrawal state", "withdrawal_id", w.ID, "state", state, "error", err)
	}
	return w
}

func (s *Service) releaseLease(ctx context.Context, lease sequence.Lease) {
	if err := s.sequences.Release(ctx, lease); err != nil {
		s.logger.Warn("release sequence lease", "account_id", lease.AccountID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, destination, kind string, w Withdrawal, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: destination,
		EntityID:    w.ID,
		Amount:      w.Amount,
		Body:        body,
	})
}
