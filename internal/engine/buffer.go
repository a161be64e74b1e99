package engine

import (
	"container/heap"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// itemKind is what a buffered item commits as when released.
type itemKind int

const (
	itemPartial itemKind = iota + 1
	itemFinal
	itemInvocation
	itemNotice
	itemTurnComplete
)

// item is an event waiting in the reorder buffer.
type item struct {
	kind     itemKind
	key      ir.OrderKey
	stream   ir.StreamID
	arrival  int64
	at       time.Time
	event    ir.Event
	producer string
}

// callID returns the call id of an invocation item.
func (it item) callID() string {
	if b, ok := it.event.(ir.InvocationBegin); ok {
		return b.CallID
	}
	return ""
}

// bufferKey identifies an item for duplicate suppression while buffered.
// Partial items live beside finals of the same stream, so the kind is part of
// the identity.
type bufferKey struct {
	stream ir.StreamID
	key    ir.OrderKey
	kind   itemKind
}

// reorderBuffer is a min-heap of items ordered by (key, arrival). Arrival
// order breaks ties between distinct events that share a key.
type reorderBuffer struct {
	items  itemHeap
	index  map[bufferKey]struct{}
	begins map[string]int // call id -> buffered InvocationBegin count
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{
		index:  make(map[bufferKey]struct{}),
		begins: make(map[string]int),
	}
}

// Push adds it unless an item with the same identity is already buffered.
func (b *reorderBuffer) Push(it item) bool {
	k := bufferKey{stream: it.stream, key: it.key, kind: it.kind}
	if _, dup := b.index[k]; dup {
		return false
	}
	b.index[k] = struct{}{}
	if it.kind == itemInvocation {
		b.begins[it.callID()]++
	}
	heap.Push(&b.items, it)
	return true
}

// Peek returns the lowest item without removing it.
func (b *reorderBuffer) Peek() (item, bool) {
	if len(b.items) == 0 {
		return item{}, false
	}
	return b.items[0], true
}

// Pop removes and returns the lowest item.
func (b *reorderBuffer) Pop() item {
	it := heap.Pop(&b.items).(item)
	b.forget(it)
	return it
}

// Len returns the number of buffered items.
func (b *reorderBuffer) Len() int {
	return len(b.items)
}

// HasBegin reports whether an InvocationBegin for callID is still buffered.
func (b *reorderBuffer) HasBegin(callID string) bool {
	return b.begins[callID] > 0
}

// Extract removes every item matching keep and returns them in heap order.
func (b *reorderBuffer) Extract(keep func(item) bool) []item {
	var out, rest itemHeap
	for _, it := range b.items {
		if keep(it) {
			out = append(out, it)
			b.forget(it)
		} else {
			rest = append(rest, it)
		}
	}
	if len(out) == 0 {
		return nil
	}
	heap.Init(&rest)
	b.items = rest

	heap.Init(&out)
	sorted := make([]item, 0, len(out))
	for out.Len() > 0 {
		sorted = append(sorted, heap.Pop(&out).(item))
	}
	return sorted
}

// Oldest returns the earliest arrival time among buffered items matching
// match.
func (b *reorderBuffer) Oldest(match func(item) bool) (time.Time, bool) {
	var oldest time.Time
	for _, it := range b.items {
		if !match(it) {
			continue
		}
		if oldest.IsZero() || it.at.Before(oldest) {
			oldest = it.at
		}
	}
	return oldest, !oldest.IsZero()
}

func (b *reorderBuffer) forget(it item) {
	delete(b.index, bufferKey{stream: it.stream, key: it.key, kind: it.kind})
	if it.kind == itemInvocation {
		id := it.callID()
		if b.begins[id] <= 1 {
			delete(b.begins, id)
		} else {
			b.begins[id]--
		}
	}
}

// itemHeap implements heap.Interface.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if c := h[i].key.Compare(h[j].key); c != 0 {
		return c < 0
	}
	return h[i].arrival < h[j].arrival
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}
