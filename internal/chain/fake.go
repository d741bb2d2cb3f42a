package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/lumo-chat/lumo_pay/internal/fees"
)

// FakeClient is an in-memory network client for tests. Submission failures
// and status progressions are scripted per call.
type FakeClient struct {
	mu          sync.Mutex
	conditions  fees.Conditions
	sequences   map[string]uint64
	submitErrs  []error
	statusQueue map[string][]Status
	submissions [][]byte
}

// NewFakeClient constructs a fake client with a legacy fee quote.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		conditions:  fees.Conditions{Model: fees.ModelLegacy, UnitPrice: 100},
		sequences:   make(map[string]uint64),
		statusQueue: make(map[string][]Status),
	}
}

// SetConditions overrides the fee quote the fake returns.
func (f *FakeClient) SetConditions(c fees.Conditions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditions = c
}

// SetObservedSequence scripts the observed sequence for an address.
func (f *FakeClient) SetObservedSequence(address string, seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[address] = seq
}

// FailSubmits queues errors returned by the next Submit calls, in order. A
// nil entry makes that call succeed.
func (f *FakeClient) FailSubmits(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs = append(f.submitErrs, errs...)
}

// ScriptStatus queues the statuses returned for a transaction hash; once the
// queue drains the last status repeats.
func (f *FakeClient) ScriptStatus(hash string, statuses ...Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusQueue[hash] = statuses
}

// Submissions returns the raw payloads accepted so far.
func (f *FakeClient) Submissions() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.submissions))
	copy(out, f.submissions)
	return out
}

func (f *FakeClient) FeeConditions(_ context.Context, _ string) (fees.Conditions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditions, nil
}

func (f *FakeClient) ObservedSequence(_ context.Context, _, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sequences[address], nil
}

func (f *FakeClient) Submit(_ context.Context, _ string, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.submissions = append(f.submissions, raw)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (f *FakeClient) TxStatus(_ context.Context, _, hash string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.statusQueue[hash]
	if len(queue) == 0 {
		return StatusFinalized, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		f.statusQueue[hash] = queue[1:]
	}
	return status, nil
}
