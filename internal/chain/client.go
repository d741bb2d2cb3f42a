package chain

import (
	"context"
	"errors"

	"github.com/lumo-chat/lumo_pay/internal/fees"
)

// Status of a submitted transaction as observed on the network. Included
// transactions sit in a block that may still be reorganized out; only
// Finalized is irreversible and may be treated as settled downstream.
type Status string

const (
	StatusPending   Status = "pending"
	StatusIncluded  Status = "included"
	StatusFinalized Status = "finalized"
	StatusRejected  Status = "rejected"
)

var (
	// ErrTransient marks a submission failure worth retrying with the same
	// sequence number (timeouts, connection resets, node overload).
	ErrTransient = errors.New("transient network failure")

	// ErrPermanent marks a submission failure that no retry can fix
	// (malformed transaction, insufficient on-chain funds). It aborts the
	// attempt immediately.
	ErrPermanent = errors.New("permanent submission failure")
)

// Client is the engine's access to the ledger network. Implementations are
// unreliable by assumption; callers bound every call with a context and
// classify failures via ErrTransient/ErrPermanent wrapping.
type Client interface {
	FeeConditions(ctx context.Context, network string) (fees.Conditions, error)
	ObservedSequence(ctx context.Context, network, address string) (uint64, error)
	Submit(ctx context.Context, network string, raw []byte) (string, error)
	TxStatus(ctx context.Context, network, hash string) (Status, error)
}
