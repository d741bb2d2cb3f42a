package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicatePosting indicates the provided client transaction identifier
	// already exists for the posting kind and therefore the operation should be
	// treated as idempotent.
	ErrDuplicatePosting = errors.New("duplicate posting")

	// ErrAccountNotFound indicates the referenced ledger account does not exist.
	ErrAccountNotFound = errors.New("ledger account not found")
)

// Posting kinds correlate ledger entries with the operation that produced them.
const (
	KindDeposit            = "deposit"
	KindWithdrawal         = "withdrawal"
	KindWithdrawalSettle   = "withdrawal_settle"
	KindWithdrawalRefund   = "withdrawal_refund"
	KindTransferEscrow     = "transfer_escrow"
	KindTransferClaim      = "transfer_claim"
	KindTransferCancel     = "transfer_cancel"
	KindTransferRefund     = "transfer_refund"
	KindDistributionFund   = "distribution_fund"
	KindDistributionClaim  = "distribution_claim"
	KindDistributionRefund = "distribution_refund"
)

// AccountCode derives the spendable ledger account code for a custodial
// account and asset pair.
func AccountCode(accountID, asset string) string {
	return fmt.Sprintf("acct:%s:%s", accountID, asset)
}

// EscrowCode derives the escrow account code holding funds set aside for a
// transfer or distribution until claim, cancellation or expiry.
func EscrowCode(kind, entityID string) string {
	return fmt.Sprintf("escrow:%s:%s", kind, entityID)
}

// SuspenseCode derives the account parking funds in flight to the chain
// between submission and finality.
func SuspenseCode(asset string) string {
	return fmt.Sprintf("suspense:chain:%s", asset)
}

// SettledCode derives the terminal account representing value that left the
// platform once a withdrawal finalized on chain.
func SettledCode(asset string) string {
	return fmt.Sprintf("settled:chain:%s", asset)
}

// PostingResult captures the outcome of a ledger posting.
type PostingResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// Entry is one immutable leg of a balanced posting. Balances derive from the
// sum of an account's entry deltas.
type Entry struct {
	ID            string
	TransactionID string
	Account       string
	Kind          string
	Delta         int64
	CreatedAt     time.Time
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Post debits fromCode and credits toCode atomically: the balance check and
// both entries happen inside one transaction, so concurrent debits on the same
// account serialize and can never both spend the same funds.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Post(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (PostingResult, error)
	History(ctx context.Context, code string, limit, offset int) ([]Entry, error)
}
