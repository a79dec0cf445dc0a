package store

import (
	"bytes"
	"encoding/json"
	"time"

	"cyltrack/pkg/domain"
)

// Delta is the per-kind set of records that changed since the last
// successful push. Pushing a delta is idempotent: every record is keyed on
// its id upstream.
type Delta struct {
	Cylinders    []domain.Cylinder
	Customers    []domain.Customer
	Transactions []domain.Transaction
}

// Empty reports whether there is nothing to push.
func (d Delta) Empty() bool {
	return len(d.Cylinders) == 0 && len(d.Customers) == 0 && len(d.Transactions) == 0
}

// Size returns the total number of changed records.
func (d Delta) Size() int {
	return len(d.Cylinders) + len(d.Customers) + len(d.Transactions)
}

// computeDelta diffs the current state against the last pushed baseline.
func computeDelta(baseline, current domain.Snapshot) Delta {
	return Delta{
		Cylinders: diffByID(baseline.Cylinders, current.Cylinders,
			func(c domain.Cylinder) string { return c.ID },
			func(c domain.Cylinder) time.Time { return c.UpdatedAt }),
		Customers: diffByID(baseline.Customers, current.Customers,
			func(c domain.Customer) string { return c.ID },
			func(c domain.Customer) time.Time { return c.UpdatedAt }),
		Transactions: diffAppendOnly(baseline.Transactions, current.Transactions),
	}
}

// diffByID returns the records in next that are new or changed relative to
// prev. A moved UpdatedAt stamp is taken at face value; unchanged stamps
// fall back to a deep compare, since several legacy writers forget to touch
// the stamp.
func diffByID[T any](prev, next []T, id func(T) string, updatedAt func(T) time.Time) []T {
	if len(prev) == 0 {
		return next
	}
	prevByID := make(map[string]T, len(prev))
	for _, p := range prev {
		prevByID[id(p)] = p
	}
	var changed []T
	for _, n := range next {
		p, ok := prevByID[id(n)]
		if !ok {
			changed = append(changed, n)
			continue
		}
		if !updatedAt(n).Equal(updatedAt(p)) {
			changed = append(changed, n)
			continue
		}
		if !deepEqual(p, n) {
			changed = append(changed, n)
		}
	}
	return changed
}

// diffAppendOnly returns entries present in next but not prev. Transactions
// are immutable, so identity is enough.
func diffAppendOnly(prev, next []domain.Transaction) []domain.Transaction {
	if len(prev) == 0 {
		return next
	}
	seen := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		seen[p.ID] = struct{}{}
	}
	var added []domain.Transaction
	for _, n := range next {
		if _, ok := seen[n.ID]; !ok {
			added = append(added, n)
		}
	}
	return added
}

func deepEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
