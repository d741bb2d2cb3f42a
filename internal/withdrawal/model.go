package withdrawal

import "time"

// Withdrawal states. A request is never deleted; its row always reflects the
// authoritative outcome. Rejected requests never touched the ledger, Failed
// requests were debited and then refunded by a compensating credit.
const (
	StateRequested = "requested"
	StateValidated = "validated"
	StateSubmitted = "submitted"
	StateConfirmed = "confirmed"
	StateFailed    = "failed"
	StateRejected  = "rejected"
)

// Withdrawal moves custodial funds out to an external on-chain address.
type Withdrawal struct {
	ID            string
	AccountID     string
	Asset         string
	Destination   string
	Amount        int64
	Tier          string
	State         string
	TxRef         string
	RetryCount    int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
}
