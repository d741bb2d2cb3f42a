package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked indicates another live lease holds this account's sequence.
	ErrLocked = errors.New("sequence lease held by another submission")

	// ErrLeaseExpired indicates the lease TTL elapsed before the holder
	// finished; the counter may no longer be trusted by this holder.
	ErrLeaseExpired = errors.New("sequence lease expired")

	// ErrReconciliationRequired indicates a previous submission gave up
	// mid-flight; Recover must re-sync the counter from the network before
	// further submissions from this account.
	ErrReconciliationRequired = errors.New("sequence reconciliation required")
)

// unlockScript deletes the lock only when still held by the token, so a
// late release cannot clobber a lease acquired after TTL expiry.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// checkScript reports whether the lock is still held by the token.
var checkScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return 1
end
return 0`)

// Lease grants exclusive use of one sequence number for one submission
// attempt from an account.
type Lease struct {
	AccountID string
	Network   string
	Sequence  uint64
	Token     string
	ExpiresAt time.Time
}

// Source supplies the network's observed next sequence for an address. The
// chain client satisfies it.
type Source interface {
	ObservedSequence(ctx context.Context, network, address string) (uint64, error)
}

// Manager hands out exactly one usable sequence number per submission attempt
// per account. A persisted counter per (account, network) sits behind a
// short-TTL Redis lock, so multiple engine instances stay consistent and a
// crashed holder cannot deadlock later acquisitions.
type Manager struct {
	store    Store
	locks    *redis.Client
	source   Source
	leaseTTL time.Duration
}

// NewManager wires the sequence manager.
func NewManager(store Store, locks *redis.Client, source Source, leaseTTL time.Duration) *Manager {
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Second
	}
	return &Manager{store: store, locks: locks, source: source, leaseTTL: leaseTTL}
}

func lockKey(accountID, network string) string {
	return fmt.Sprintf("seq:lock:%s:%s", accountID, network)
}

func recoverKey(accountID, network string) string {
	return fmt.Sprintf("seq:recover:%s:%s", accountID, network)
}

// Acquire takes the account's lock and returns a lease on the next unused
// sequence number. First use of an account initializes the counter from the
// network's observed sequence.
func (m *Manager) Acquire(ctx context.Context, accountID, network, address string) (Lease, error) {
	flagged, err := m.locks.Exists(ctx, recoverKey(accountID, network)).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("check recovery flag: %w", err)
	}
	if flagged > 0 {
		return Lease{}, ErrReconciliationRequired
	}

	token := uuid.NewString()
	ok, err := m.locks.SetNX(ctx, lockKey(accountID, network), token, m.leaseTTL).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("acquire sequence lock: %w", err)
	}
	if !ok {
		return Lease{}, ErrLocked
	}

	next, exists, err := m.store.Peek(ctx, accountID, network)
	if err != nil {
		m.unlock(ctx, accountID, network, token)
		return Lease{}, err
	}
	if !exists {
		observed, err := m.source.ObservedSequence(ctx, network, address)
		if err != nil {
			m.unlock(ctx, accountID, network, token)
			return Lease{}, fmt.Errorf("initialize sequence from network: %w", err)
		}
		if err := m.store.Put(ctx, accountID, network, observed); err != nil {
			m.unlock(ctx, accountID, network, token)
			return Lease{}, err
		}
		next = observed
	}

	return Lease{
		AccountID: accountID,
		Network:   network,
		Sequence:  next,
		Token:     token,
		ExpiresAt: time.Now().Add(m.leaseTTL),
	}, nil
}

// MarkUsed durably advances the counter past the leased number and releases
// the lock. Called once the network accepted the submission.
func (m *Manager) MarkUsed(ctx context.Context, lease Lease) error {
	held, err := checkScript.Run(ctx, m.locks, []string{lockKey(lease.AccountID, lease.Network)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("check sequence lock: %w", err)
	}
	if held == 0 {
		return ErrLeaseExpired
	}
	if err := m.store.Put(ctx, lease.AccountID, lease.Network, lease.Sequence+1); err != nil {
		return err
	}
	m.unlock(ctx, lease.AccountID, lease.Network, lease.Token)
	return nil
}

// Release returns the leased number unused, leaving the counter unchanged so
// the next acquisition reuses it.
func (m *Manager) Release(ctx context.Context, lease Lease) error {
	deleted, err := unlockScript.Run(ctx, m.locks, []string{lockKey(lease.AccountID, lease.Network)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release sequence lock: %w", err)
	}
	if deleted == 0 {
		return ErrLeaseExpired
	}
	return nil
}

// RequireRecovery flags the account so further acquisitions fail with
// ErrReconciliationRequired until Recover runs. Called when a submission
// gave up with the sequence's on-chain fate unknown.
func (m *Manager) RequireRecovery(ctx context.Context, accountID, network string) error {
	return m.locks.Set(ctx, recoverKey(accountID, network), "1", 0).Err()
}

// Recover re-syncs the counter from the network's observed sequence and
// clears the recovery flag.
func (m *Manager) Recover(ctx context.Context, accountID, network, address string) error {
	token := uuid.NewString()
	ok, err := m.locks.SetNX(ctx, lockKey(accountID, network), token, m.leaseTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire sequence lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer m.unlock(ctx, accountID, network, token)

	observed, err := m.source.ObservedSequence(ctx, network, address)
	if err != nil {
		return fmt.Errorf("query observed sequence: %w", err)
	}
	if err := m.store.Put(ctx, accountID, network, observed); err != nil {
		return err
	}
	return m.locks.Del(ctx, recoverKey(accountID, network)).Err()
}

func (m *Manager) unlock(ctx context.Context, accountID, network, token string) {
	_, _ = unlockScript.Run(ctx, m.locks, []string{lockKey(accountID, network)}, token).Result()
}
