package reassembly

import (
	"sync/atomic"
	"time"
)

// entry is one in-flight partial message
type entry struct {
	id        MessageID
	slots     []atomic.Pointer[[]byte]
	filled    atomic.Int32
	firstSeen time.Time
	seq       uint64

	// guarded by evictionIndex.mu
	heapIdx int
	gone    bool
}

func newEntry(id MessageID, count int, now time.Time, seq uint64) *entry {
	return &entry{
		id:        id,
		slots:     make([]atomic.Pointer[[]byte], count),
		firstSeen: now,
		seq:       seq,
		heapIdx:   -1,
	}
}

func (e *entry) expected() int { return len(e.slots) }

// put stores payload at seq and returns the new count of filled slots.
// stored is false when the slot was already taken; it is left untouched.
func (e *entry) put(seq int, payload []byte) (filled int, stored bool) {
	if !e.slots[seq].CompareAndSwap(nil, &payload) {
		return int(e.filled.Load()), false
	}
	return int(e.filled.Add(1)), true
}

// assemble concatenates every slot in sequence order
func (e *entry) assemble() []byte {
	total := 0
	for i := range e.slots {
		total += len(*e.slots[i].Load())
	}
	buf := make([]byte, 0, total)
	for i := range e.slots {
		buf = append(buf, *e.slots[i].Load()...)
	}
	return buf
}
