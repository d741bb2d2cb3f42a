package account

import "time"

// Account is a custodial wallet whose key material the platform holds on the
// owner's behalf. Balances live in the ledger, keyed per asset.
type Account struct {
	ID        string
	OwnerID   string
	Address   string
	Status    string
	CreatedAt time.Time
}

// Balance encapsulates available funds for one account and asset.
type Balance struct {
	AccountID string
	Asset     string
	Amount    int64
	AsOf      time.Time
}
