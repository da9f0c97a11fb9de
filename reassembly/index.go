package reassembly

import (
	"container/heap"
	"sync"
	"time"
)

// evictionIndex orders live entries by (firstSeen, seq) so the oldest one
// can be found in O(1) and removed in O(log n).
type evictionIndex struct {
	mu sync.Mutex
	h  entryHeap
}

// add inserts e unless it was already removed
func (x *evictionIndex) add(e *entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e.gone || e.heapIdx >= 0 {
		return
	}
	heap.Push(&x.h, e)
}

// remove deletes e. It reports false when e had already been removed.
func (x *evictionIndex) remove(e *entry) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e.gone {
		return false
	}
	e.gone = true
	if e.heapIdx >= 0 {
		heap.Remove(&x.h, e.heapIdx)
	}
	return true
}

// popExpired removes and returns the oldest entry first seen before cutoff,
// or nil when the oldest entry is still inside the window.
func (x *evictionIndex) popExpired(cutoff time.Time) *entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.h) == 0 || !x.h[0].firstSeen.Before(cutoff) {
		return nil
	}
	e := heap.Pop(&x.h).(*entry)
	e.gone = true
	return e
}

func (x *evictionIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.h)
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].firstSeen.Equal(h[j].firstSeen) {
		return h[i].seq < h[j].seq
	}
	return h[i].firstSeen.Before(h[j].firstSeen)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}
