package harness

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aradilov/mpsync"
)

// WorkerReport is what a worker publishes when it finishes.
type WorkerReport struct {
	Worker  int
	Ops     uint64
	Elapsed time.Duration
	Err     error
}

type reportSlot struct {
	seq atomic.Uint64
	val WorkerReport
}

// reportRing is a bounded multi-producer/single-consumer ring. Every worker
// pushes exactly one report; the runner goroutine drains them.
//
// Each slot carries a sequence number: pos when free for the producer at
// pos, pos+1 once published, pos+capacity once consumed.
type reportRing struct {
	_        mpsync.CacheLinePad
	mask     uint64
	capacity uint64
	slots    []reportSlot
	_        mpsync.CacheLinePad
	enqueue  atomic.Uint64 // claimed by producers
	_        mpsync.CacheLinePad
	dequeue  uint64 // owned by the single consumer
	_        mpsync.CacheLinePad
}

// newReportRing sizes the ring to the next power of two >= n.
func newReportRing(n int) *reportRing {
	capacity := uint64(1)
	for capacity < uint64(n) {
		capacity <<= 1
	}
	slots := make([]reportSlot, capacity)
	for i := range slots {
		slots[i].seq.Store(uint64(i))
	}
	return &reportRing{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    slots,
	}
}

// push returns false if the ring is full.
func (q *reportRing) push(r WorkerReport) bool {
	for {
		pos := q.enqueue.Load()
		s := &q.slots[pos&q.mask]

		diff := int64(s.seq.Load()) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				s.val = r
				s.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			// another producer claimed pos; reload
		}
	}
}

// pushWait retries push until it succeeds.
func (q *reportRing) pushWait(r WorkerReport) {
	for !q.push(r) {
		runtime.Gosched()
	}
}

// pop must only be called by the consumer.
func (q *reportRing) pop() (WorkerReport, bool) {
	pos := q.dequeue
	s := &q.slots[pos&q.mask]
	if int64(s.seq.Load())-int64(pos+1) != 0 {
		return WorkerReport{}, false
	}
	q.dequeue = pos + 1
	r := s.val
	s.val = WorkerReport{}
	s.seq.Store(pos + q.capacity)
	return r, true
}
