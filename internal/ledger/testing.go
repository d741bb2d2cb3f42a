package ledger

// SeedBalance is a test helper that seeds the balance for an account when using the in-memory ledger.
func SeedBalance(l Ledger, code string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[code] = amount
	}
}

// EntrySum is a test helper returning the sum of entry deltas recorded for an
// account on the in-memory ledger, for checking balances derive from entries.
func EntrySum(l Ledger, code string) int64 {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return 0
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var sum int64
	for _, e := range mem.entries[code] {
		sum += e.Delta
	}
	return sum
}
