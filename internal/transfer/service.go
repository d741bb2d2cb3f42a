package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/notification"
)

var (
	// ErrNotRecipient indicates the claimant is not the fixed recipient.
	ErrNotRecipient = errors.New("not the transfer recipient")

	// ErrNotSender indicates only the sender may cancel a transfer.
	ErrNotSender = errors.New("not the transfer sender")

	// ErrNotOwner indicates the caller does not own the acting account.
	ErrNotOwner = errors.New("not owner of account")

	// ErrValidation indicates a malformed transfer request.
	ErrValidation = errors.New("invalid transfer request")
)

// Service runs in-conversation escrow transfers.
type Service struct {
	repo     Repository
	accounts *account.Service
	notifier notification.Notifier
	logger   *slog.Logger
	expiry   time.Duration
}

// NewService wires the transfer service. expiry bounds how long a transfer
// stays claimable.
func NewService(repo Repository, accounts *account.Service, notifier notification.Notifier, logger *slog.Logger, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{repo: repo, accounts: accounts, notifier: notifier, logger: logger, expiry: expiry}
}

// CreateInput captures the data needed to open an escrow transfer.
type CreateInput struct {
	SenderID        string
	RecipientID     string
	ConversationID  string
	Asset           string
	Amount          int64
	Message         string
	RequestorUserID string
}

// Create reserves the sender's funds in escrow and opens the claim window.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.Amount <= 0 {
		return Transfer{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.ConversationID == "" {
		return Transfer{}, fmt.Errorf("%w: conversation required", ErrValidation)
	}

	sender, err := s.accounts.Get(ctx, input.SenderID)
	if err != nil {
		return Transfer{}, err
	}
	if input.RequestorUserID != "" && sender.OwnerID != input.RequestorUserID {
		return Transfer{}, ErrNotOwner
	}
	if input.RecipientID != "" {
		if _, err := s.accounts.Get(ctx, input.RecipientID); err != nil {
			return Transfer{}, err
		}
	}

	now := time.Now().UTC()
	t := Transfer{
		ID:             uuid.New().String(),
		SenderID:       sender.ID,
		RecipientID:    input.RecipientID,
		ConversationID: input.ConversationID,
		Asset:          input.Asset,
		Amount:         input.Amount,
		Message:        input.Message,
		State:          StatePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.expiry),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return Transfer{}, err
	}

	s.notify(ctx, t.ConversationID, notification.KindTransferCreated, t,
		fmt.Sprintf("Transfer of %d %s is waiting to be claimed", t.Amount, t.Asset))
	return t, nil
}

// Claim delivers the escrowed funds to the claimant's account.
func (s *Service) Claim(ctx context.Context, id, claimantID, requestorUserID string) (Transfer, error) {
	claimant, err := s.accounts.Get(ctx, claimantID)
	if err != nil {
		return Transfer{}, err
	}
	if requestorUserID != "" && claimant.OwnerID != requestorUserID {
		return Transfer{}, ErrNotOwner
	}

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if t.RecipientID != "" && t.RecipientID != claimant.ID {
		return t, ErrNotRecipient
	}

	t, err = s.repo.Claim(ctx, id, claimant.ID, time.Now().UTC())
	if err != nil {
		return t, err
	}

	s.notify(ctx, t.ConversationID, notification.KindTransferClaimed, t,
		fmt.Sprintf("Transfer of %d %s was claimed", t.Amount, t.Asset))
	return t, nil
}

// Cancel returns escrowed funds to the sender. Only the sender may cancel,
// and only while the transfer is still pending.
func (s *Service) Cancel(ctx context.Context, id, requestorUserID string) (Transfer, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if requestorUserID != "" {
		sender, err := s.accounts.Get(ctx, t.SenderID)
		if err != nil {
			return Transfer{}, err
		}
		if sender.OwnerID != requestorUserID {
			return t, ErrNotSender
		}
	}

	t, err = s.repo.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return t, err
	}

	s.notify(ctx, t.ConversationID, notification.KindTransferCancelled, t,
		fmt.Sprintf("Transfer of %d %s was cancelled", t.Amount, t.Asset))
	return t, nil
}

// Get fetches a transfer by identifier.
func (s *Service) Get(ctx context.Context, id string) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// ExpireDue refunds every pending transfer whose claim window elapsed.
// Safe to run repeatedly and concurrently; each call refunds a transfer at
// most once.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, t := range expired {
		s.notify(ctx, t.ConversationID, notification.KindTransferExpired, t,
			fmt.Sprintf("Unclaimed transfer of %d %s was returned to the sender", t.Amount, t.Asset))
	}
	return len(expired), nil
}

func (s *Service) notify(ctx context.Context, conversationID, kind string, t Transfer, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:           kind,
		ConversationID: conversationID,
		EntityID:       t.ID,
		Amount:         t.Amount,
		Body:           body,
	})
}
