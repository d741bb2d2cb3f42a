package distribution

import (
	"fmt"
	"math/rand"
)

// splitAmount computes the next claim's share. Equal shares are always
// floor(total/count); the final claim takes whatever remains, so the whole
// rounding remainder lands there. Random shares draw from a bounded range.
// Every share is at least 1 and the final share always drains the pot.
func splitAmount(policy string, total int64, count int, remaining int64, slotsLeft int) (int64, error) {
	if slotsLeft <= 0 {
		return 0, fmt.Errorf("no slots left")
	}
	if remaining < int64(slotsLeft) {
		return 0, fmt.Errorf("remaining %d cannot cover %d slots", remaining, slotsLeft)
	}
	if slotsLeft == 1 {
		return remaining, nil
	}

	switch policy {
	case PolicyEqual:
		return total / int64(count), nil
	case PolicyRandom:
		return randomShare(remaining, slotsLeft), nil
	default:
		return 0, fmt.Errorf("unknown split policy %q", policy)
	}
}

// randomShare draws uniformly from [1, min(remaining-(slotsLeft-1), 2*remaining/slotsLeft)],
// keeping at least one unit behind for every later claim while letting a
// lucky draw take up to roughly double the fair share.
func randomShare(remaining int64, slotsLeft int) int64 {
	upper := 2 * remaining / int64(slotsLeft)
	if reserve := remaining - int64(slotsLeft-1); reserve < upper {
		upper = reserve
	}
	if upper <= 1 {
		return 1
	}
	return 1 + rand.Int63n(upper)
}
