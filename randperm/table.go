package randperm

import "sync"

// targetTable is one PE's local shard of the global target table: a
// fixed-size slice of sentinel-initialized slots guarded by one mutex
// (spec.md §3's "target table T ... each an atomic index-or-SENTINEL").
// The manual CAS/push/buffered variants each own one of these directly,
// reserving darray.AtomicArray's built-in batching for the array-CAS
// variant it's actually grounded on.
type targetTable struct {
	mu    sync.Mutex
	slots []uint64
}

func newTargetTable(localLen int) *targetTable {
	slots := make([]uint64, localLen)
	for i := range slots {
		slots[i] = Sentinel
	}
	return &targetTable{slots: slots}
}

// compareExchange replaces slots[offset] with desired iff it currently
// holds Sentinel, returning the prior value and whether the swap took.
func (t *targetTable) compareExchange(offset int, desired uint64) (prev uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.slots[offset]
	if cur == Sentinel {
		t.slots[offset] = desired
		return cur, true
	}
	return cur, false
}

// survivors returns every non-sentinel slot, in slot order.
func (t *targetTable) survivors() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, 0, len(t.slots))
	for _, v := range t.slots {
		if v != Sentinel {
			out = append(out, v)
		}
	}
	return out
}

func (t *targetTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// pushTable is the append-only local store the push family uses: no
// collision handling is needed since every dart that lands always
// succeeds (spec.md §4.9 table: "push ... AM appends to a local Vec
// under a lock").
type pushTable struct {
	mu   sync.Mutex
	vals []uint64
}

func (t *pushTable) append(vals ...uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vals = append(t.vals, vals...)
}

func (t *pushTable) snapshot() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, len(t.vals))
	copy(out, t.vals)
	return out
}
