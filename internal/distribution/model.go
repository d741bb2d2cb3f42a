package distribution

import "time"

// Distribution states. Active is the only state accepting claims; the
// count-exhausting claim flips the row to Completed, while Cancelled and
// Expired refund whatever remained unclaimed.
const (
	StateActive    = "active"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
	StateExpired   = "expired"
)

// Split policies.
const (
	PolicyEqual  = "equal"
	PolicyRandom = "random"
)

// Distribution is a fixed pot split across a fixed number of claims inside a
// conversation. The full amount is escrowed at creation; Remaining tracks
// what later claims may still draw from.
type Distribution struct {
	ID             string
	CreatorID      string
	ConversationID string
	Asset          string
	TotalAmount    int64
	PacketCount    int
	Policy         string
	Message        string
	State          string
	Remaining      int64
	ClaimedCount   int
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}

// Claim records one claimant's share. At most one claim exists per claimant
// per distribution.
type Claim struct {
	DistributionID string
	ClaimantID     string
	Amount         int64
	ClaimedAt      time.Time
}
