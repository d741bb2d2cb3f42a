package distribution

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
	// ErrNotCreator indicates only the creator may cancel a distribution.
	ErrNotCreator = errors.New("not the distribution creator")

	// ErrNotOwner indicates the caller does not own the acting account.
	ErrNotOwner = errors.New("not owner of account")

	// ErrValidation indicates a malformed distribution request.
	ErrValidation = errors.New("invalid distribution request")
)

// Service runs fixed-pot distributions inside conversations.
type Service struct {
	repo     Repository
	accounts *account.Service
	notifier notification.Notifier
	logger   *slog.Logger
	expiry   time.Duration
}

// NewService wires the distribution service. expiry bounds how long the pot
// stays claimable.
func NewService(repo Repository, accounts *account.Service, notifier notification.Notifier, logger *slog.Logger, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{repo: repo, accounts: accounts, notifier: notifier, logger: logger, expiry: expiry}
}

// CreateInput captures the data needed to open a distribution.
type CreateInput struct {
	CreatorID       string
	ConversationID  string
	Asset           string
	TotalAmount     int64
	Count           int
	Policy          string
	Message         string
	RequestorUserID string
}

// Create escrows the full pot and opens the claim window. The total must
// cover at least one unit per packet so every claim can pay out.
func (s *Service) Create(ctx context.Context, input CreateInput) (Distribution, error) {
	if input.Count <= 0 {
		return Distribution{}, fmt.Errorf("%w: count must be positive", ErrValidation)
	}
	if input.TotalAmount < int64(input.Count) {
		return Distribution{}, fmt.Errorf("%w: total %d cannot cover %d packets", ErrValidation, input.TotalAmount, input.Count)
	}
	if input.Policy != PolicyEqual && input.Policy != PolicyRandom {
		return Distribution{}, fmt.Errorf("%w: unknown policy %q", ErrValidation, input.Policy)
	}
	if input.ConversationID == "" {
		return Distribution{}, fmt.Errorf("%w: conversation required", ErrValidation)
	}

	creator, err := s.accounts.Get(ctx, input.CreatorID)
	if err != nil {
		return Distribution{}, err
	}
	if input.RequestorUserID != "" && creator.OwnerID != input.RequestorUserID {
		return Distribution{}, ErrNotOwner
	}

	now := time.Now().UTC()
	d := Distribution{
		ID:             uuid.New().String(),
		CreatorID:      creator.ID,
		ConversationID: input.ConversationID,
		Asset:          input.Asset,
		TotalAmount:    input.TotalAmount,
		PacketCount:    input.Count,
		Policy:         input.Policy,
		Message:        input.Message,
		State:          StateActive,
		Remaining:      input.TotalAmount,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.expiry),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return Distribution{}, err
	}

	s.notify(ctx, d, notification.KindDistributionCreated,
		fmt.Sprintf("A pot of %d %s split %d ways is up for grabs", d.TotalAmount, d.Asset, d.PacketCount))
	return d, nil
}

// Claim draws the caller's share from the pot.
func (s *Service) Claim(ctx context.Context, id, claimantID, requestorUserID string) (Distribution, Claim, error) {
	claimant, err := s.accounts.Get(ctx, claimantID)
	if err != nil {
		return Distribution{}, Claim{}, err
	}
	if requestorUserID != "" && claimant.OwnerID != requestorUserID {
		return Distribution{}, Claim{}, ErrNotOwner
	}

	d, claim, err := s.repo.Claim(ctx, id, claimant.ID, time.Now().UTC())
	if err != nil {
		return d, Claim{}, err
	}

	s.notify(ctx, d, notification.KindDistributionClaimed,
		fmt.Sprintf("A share of %d %s was claimed", claim.Amount, d.Asset))
	if d.State == StateCompleted {
		s.notify(ctx, d, notification.KindDistributionCompleted,
			fmt.Sprintf("The pot of %d %s was fully claimed", d.TotalAmount, d.Asset))
	}
	return d, claim, nil
}

// Cancel refunds the unclaimed remainder to the creator. Only the creator
// may cancel, and only while the distribution is active.
func (s *Service) Cancel(ctx context.Context, id, requestorUserID string) (Distribution, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Distribution{}, err
	}
	if requestorUserID != "" {
		creator, err := s.accounts.Get(ctx, d.CreatorID)
		if err != nil {
			return Distribution{}, err
		}
		if creator.OwnerID != requestorUserID {
			return d, ErrNotCreator
		}
	}

	d, err = s.repo.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return d, err
	}

	s.notify(ctx, d, notification.KindDistributionCancelled,
		fmt.Sprintf("The pot was cancelled; %s returned the remainder to the creator", d.Asset))
	return d, nil
}

// Get fetches a distribution with its claims.
func (s *Service) Get(ctx context.Context, id string) (Distribution, []Claim, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Distribution{}, nil, err
	}
	claims, err := s.repo.Claims(ctx, id)
	if err != nil {
		return Distribution{}, nil, err
	}
	return d, claims, nil
}

// ExpireDue refunds the remainder of every distribution whose claim window
// elapsed. Safe to run repeatedly and concurrently.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, d := range expired {
		s.notify(ctx, d, notification.KindDistributionExpired,
			fmt.Sprintf("The unclaimed remainder of the %s pot was returned to the creator", d.Asset))
	}
	return len(expired), nil
}

func (s *Service) notify(ctx context.Context, d Distribution, kind, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:           kind,
		ConversationID: d.ConversationID,
		EntityID:       d.ID,
		Amount:         d.TotalAmount,
		Body:           body,
	})
}
