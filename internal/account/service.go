package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumo-chat/lumo_pay/internal/chain"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

const statusActive = "active"

// Service exposes custodial account operations backed by the ledger and the
// chain keystore.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	keys   *chain.Keystore
}

// NewService builds an account service instance.
func NewService(repo Repository, ledgerBackend ledger.Ledger, keys *chain.Keystore) *Service {
	return &Service{repo: repo, ledger: ledgerBackend, keys: keys}
}

// CreateInput captures data required to create a custodial account.
type CreateInput struct {
	OwnerID string
	Asset   string
}

// Create provisions a custodial account: its signing key, its ledger address
// and the ledger account for the initial asset.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Account{}, fmt.Errorf("invalid owner id: %w", err)
	}

	accountID := uuid.New().String()
	address, err := s.keys.Generate(ctx, accountID)
	if err != nil {
		return Account{}, fmt.Errorf("provision key material: %w", err)
	}

	account := Account{
		ID:        accountID,
		OwnerID:   input.OwnerID,
		Address:   address,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	if err := s.EnsureAsset(ctx, accountID, input.Asset); err != nil {
		return Account{}, err
	}

	return account, nil
}

// EnsureAsset guarantees the ledger account for an asset exists.
func (s *Service) EnsureAsset(ctx context.Context, accountID, asset string) error {
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	return s.ledger.EnsureAccount(ctx, ledger.AccountCode(accountID, asset))
}

// Get retrieves account metadata.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Balance returns the ledger balance for one asset of the account.
func (s *Service) Balance(ctx context.Context, id, asset string) (Balance, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, ledger.AccountCode(account.ID, asset))
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: account.ID, Asset: asset, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History returns the paginated ledger entries for one asset of the account.
func (s *Service) History(ctx context.Context, id, asset string, limit, offset int) ([]ledger.Entry, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, ledger.AccountCode(account.ID, asset), limit, offset)
}
