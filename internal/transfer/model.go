package transfer

import "time"

// Transfer states. Pending is the only state funds sit in escrow; every
// other state is terminal and accounts for the escrowed amount exactly once.
const (
	StatePending         = "pending"
	StateClaimed         = "claimed"
	StateCancelled       = "cancelled"
	StateExpiredRefunded = "expired_refunded"
)

// Transfer is an in-conversation escrow: the sender's funds are reserved at
// creation and move to the claimant, back to the sender on cancellation, or
// back to the sender when the claim window expires.
type Transfer struct {
	ID             string
	SenderID       string
	RecipientID    string // empty means any conversation member may claim
	ClaimantID     string
	ConversationID string
	Asset          string
	Amount         int64
	Message        string
	State          string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}
