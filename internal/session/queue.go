package session

import (
	"container/heap"
	"sync"
)

// Priority levels for outbound Departures (§4.1, §5). Lower sorts earlier.
const (
	PriorityHigh   = -1
	PriorityNormal = 0
	PrioritySlow   = 1
)

// Departure is one outbound unit queued for a gate writer: framed bytes
// plus the retry budget and priority the gate should honor.
type Departure struct {
	Payload    []byte
	Priority   int
	MaxRetries int
	attempts   int
	// seq breaks priority ties in FIFO order (§5: "priority-sorted then
	// FIFO within priority").
	seq uint64
}

// OverflowFunc is invoked with the dropped Departure when the queue is at
// capacity and a new push would overflow it (§5: "overflow drops oldest
// with an error callback").
type OverflowFunc func(Departure)

// OutboundQueue is the single-producer/single-consumer bounded priority
// queue owned by one Session. Producers (the messenger pushing a message)
// call Push; the consumer (the gate writer) calls Pop/PopWait.
//
// Implemented over container/heap: no third-party priority-queue package
// appears anywhere in the retrieved corpus, so the stdlib container/heap
// is the grounded choice here (see DESIGN.md).
type OutboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    pqHeap
	cap      int
	nextSeq  uint64
	closed   bool
	onDrop   OverflowFunc
}

// NewOutboundQueue creates a queue bounded at capacity cap (<=0 means
// unbounded). onDrop, if non-nil, is invoked for every dropped Departure.
func NewOutboundQueue(capacity int, onDrop OverflowFunc) *OutboundQueue {
	q := &OutboundQueue{cap: capacity, onDrop: onDrop}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push enqueues d. If the queue is at capacity, the lowest-priority
// (highest-value), oldest item is dropped to make room and onDrop is
// invoked with it.
func (q *OutboundQueue) Push(d Departure) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		if q.onDrop != nil {
			q.onDrop(d)
		}
		return
	}

	d.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, d)

	if q.cap > 0 && q.items.Len() > q.cap {
		worst := q.items.popWorst()
		if q.onDrop != nil {
			q.onDrop(worst)
		}
	}

	q.notEmpty.Signal()
}

// Pop removes and returns the highest-priority, oldest Departure. ok is
// false if the queue is empty.
func (q *OutboundQueue) Pop() (Departure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return Departure{}, false
	}
	return heap.Pop(&q.items).(Departure), true
}

// PopWait blocks until an item is available or the queue is closed.
func (q *OutboundQueue) PopWait() (Departure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.items.Len() == 0 {
		return Departure{}, false
	}
	return heap.Pop(&q.items).(Departure), true
}

// Len returns the current queue depth.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close wakes any blocked PopWait callers and causes further Push calls to
// drop immediately (drained by the gate's shutdown path).
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// pqHeap implements container/heap.Interface over Departures ordered by
// (Priority asc, seq asc).
type pqHeap []Departure

func (h pqHeap) Len() int { return len(h) }

func (h pqHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h pqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pqHeap) Push(x any) {
	*h = append(*h, x.(Departure))
}

func (h *pqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// popWorst removes and returns the lowest-priority, oldest-inserted item
// (highest Priority value, lowest seq among those) and restores heap
// invariants for the rest — used only for overflow eviction, an O(n) operation acceptable at
// the bound sizes this queue is configured for.
func (h *pqHeap) popWorst() Departure {
	old := *h
	worstIdx := 0
	for i := 1; i < len(old); i++ {
		if old[i].Priority > old[worstIdx].Priority ||
			(old[i].Priority == old[worstIdx].Priority && old[i].seq < old[worstIdx].seq) {
			worstIdx = i
		}
	}
	worst := old[worstIdx]
	last := len(old) - 1
	old[worstIdx] = old[last]
	*h = old[:last]
	heap.Init(h)
	return worst
}
