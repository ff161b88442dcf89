package mpsync

import (
	"sync/atomic"
	"unsafe"
)

const cursorPad = CacheLineSize - int(unsafe.Sizeof(atomic.Uint64{}))

// Queue is a bounded ring buffer with one producer and one consumer.
// Enqueue may only be called from the producer goroutine and Dequeue only
// from the consumer goroutine; both may run at the same time.
type Queue[T any] interface {
	// Enqueue appends v. It returns false, changing nothing, if the queue is full.
	Enqueue(v T) bool
	// Dequeue removes the oldest element. It returns false, changing
	// nothing, if the queue is empty.
	Dequeue() (T, bool)
	// Len returns an instantaneous element count.
	Len() uint64
	// Capacity returns the fixed capacity.
	Capacity() uint64
}

var (
	_ Queue[int] = (*SPSC[int])(nil)
	_ Queue[int] = (*CachedSPSC[int])(nil)
)

// SPSC is a lock-free single-producer/single-consumer ring buffer that reads
// the opposite cursor on every call.
//
// head and tail grow monotonically and are reduced to a slot with the
// capacity mask. Slot tail&mask belongs to the producer until tail moves
// past it, then to the consumer until head moves past it. The producer's
// element store happens before its tail store, which the consumer's tail
// load observes before reading the element; head works the same way back.
type SPSC[T any] struct {
	_        CacheLinePad
	mask     uint64
	capacity uint64
	slots    []T
	_        CacheLinePad
	head     atomic.Uint64 // next slot to consume, written by the consumer
	_        [cursorPad]byte
	tail     atomic.Uint64 // next slot to produce, written by the producer
	_        [cursorPad]byte
}

// NewSPSC creates a ring of the given capacity.
// Capacity must be a power of two (1<<k).
func NewSPSC[T any](capacity uint64) *SPSC[T] {
	if CheckCapacity(capacity) != nil {
		panic("capacity must be power of 2 and > 0")
	}
	return &SPSC[T]{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    make([]T, capacity),
	}
}

// Enqueue pushes v. Returns false if the queue is full.
// IMPORTANT: must be called from a single producer goroutine.
func (q *SPSC[T]) Enqueue(v T) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail-head == q.capacity {
		return false
	}
	q.slots[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Dequeue pops the oldest element. Returns (zero, false) if the queue is empty.
// IMPORTANT: must be called from a single consumer goroutine.
func (q *SPSC[T]) Dequeue() (T, bool) {
	var zero T
	head := q.head.Load()
	tail := q.tail.Load()
	if tail == head {
		return zero, false
	}
	s := &q.slots[head&q.mask]
	v := *s
	*s = zero
	q.head.Store(head + 1)
	return v, true
}

// Len returns the number of queued elements.
func (q *SPSC[T]) Len() uint64 {
	return ringLen(q.head.Load(), q.tail.Load(), q.capacity)
}

// Capacity returns the fixed queue capacity.
func (q *SPSC[T]) Capacity() uint64 {
	return q.capacity
}

// CachedSPSC is SPSC with cursor caching: the producer keeps its last view
// of head and the consumer its last view of tail, and each goes back to the
// shared cursor only when its cached view says full or empty. In a steady
// stream that removes most cross-core cursor reads.
//
// Each cached copy shares a cache line with the cursor its owner writes.
type CachedSPSC[T any] struct {
	_          CacheLinePad
	mask       uint64
	capacity   uint64
	slots      []T
	_          CacheLinePad
	head       atomic.Uint64 // written by the consumer
	cachedTail uint64        // consumer's view of tail
	_          [cursorPad - 8]byte
	tail       atomic.Uint64 // written by the producer
	cachedHead uint64        // producer's view of head
	_          [cursorPad - 8]byte
}

// NewCachedSPSC creates a ring of the given capacity.
// Capacity must be a power of two (1<<k).
func NewCachedSPSC[T any](capacity uint64) *CachedSPSC[T] {
	if CheckCapacity(capacity) != nil {
		panic("capacity must be power of 2 and > 0")
	}
	return &CachedSPSC[T]{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    make([]T, capacity),
	}
}

// Enqueue pushes v. Returns false if the queue is full.
// IMPORTANT: must be called from a single producer goroutine.
func (q *CachedSPSC[T]) Enqueue(v T) bool {
	tail := q.tail.Load()
	if tail-q.cachedHead == q.capacity {
		// cached head says full, refresh it
		q.cachedHead = q.head.Load()
		if tail-q.cachedHead == q.capacity {
			return false
		}
	}
	q.slots[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Dequeue pops the oldest element. Returns (zero, false) if the queue is empty.
// IMPORTANT: must be called from a single consumer goroutine.
func (q *CachedSPSC[T]) Dequeue() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.cachedTail {
		// cached tail says empty, refresh it
		q.cachedTail = q.tail.Load()
		if head == q.cachedTail {
			return zero, false
		}
	}
	s := &q.slots[head&q.mask]
	v := *s
	*s = zero
	q.head.Store(head + 1)
	return v, true
}

// Len returns the number of queued elements.
func (q *CachedSPSC[T]) Len() uint64 {
	return ringLen(q.head.Load(), q.tail.Load(), q.capacity)
}

// Capacity returns the fixed queue capacity.
func (q *CachedSPSC[T]) Capacity() uint64 {
	return q.capacity
}

// ringLen clamps tail-head: head is read first, so a producer running in
// between can make the raw difference overshoot.
func ringLen(head, tail, capacity uint64) uint64 {
	n := tail - head
	if n > capacity {
		return capacity
	}
	return n
}
