package mpsync

import (
	"sync/atomic"
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// ParkingLot is a WaitWaker built from per-address FIFO queues of parked
// waiters, for platforms without a kernel futex and for tests.
//
// Queues live in a sharded map keyed by word address. Wait compares the word
// and enqueues itself while holding the shard lock, and Wake dequeues under
// the same lock, so a Wake issued after the word changed can never miss a
// waiter that saw the old value.
type ParkingLot struct {
	queues cmap.ConcurrentMap[uintptr, *waitQueue]
}

type waitQueue struct {
	waiters []chan struct{}
}

// NewParkingLot creates an empty ParkingLot.
func NewParkingLot() *ParkingLot {
	return &ParkingLot{
		queues: cmap.NewWithCustomShardingFunction[uintptr, *waitQueue](shardOf),
	}
}

// shardOf spreads word addresses over the map shards; the low two bits of
// an aligned word are always zero.
func shardOf(addr uintptr) uint32 {
	h := uint64(addr>>2) * 0x9E3779B97F4A7C15
	return uint32(h >> 32)
}

// Wait parks the caller until a Wake on addr if *addr == expected.
func (p *ParkingLot) Wait(addr *uint32, expected uint32) error {
	if addr == nil {
		return &WaitError{Op: "wait", Err: ErrNilAddress}
	}
	var ch chan struct{}
	p.queues.Upsert(uintptr(unsafe.Pointer(addr)), nil, func(exist bool, q, _ *waitQueue) *waitQueue {
		if !exist {
			q = &waitQueue{}
		}
		if atomic.LoadUint32(addr) == expected {
			ch = make(chan struct{}, 1)
			q.waiters = append(q.waiters, ch)
		}
		return q
	})
	if ch != nil {
		<-ch
	}
	return nil
}

// Wake unparks up to n waiters on addr in arrival order.
func (p *ParkingLot) Wake(addr *uint32, n int) (int, error) {
	if addr == nil {
		return 0, &WaitError{Op: "wake", Err: ErrNilAddress}
	}
	var woken int
	p.queues.RemoveCb(uintptr(unsafe.Pointer(addr)), func(_ uintptr, q *waitQueue, exists bool) bool {
		if !exists {
			return false
		}
		for woken < n && len(q.waiters) > 0 {
			ch := q.waiters[0]
			q.waiters[0] = nil
			q.waiters = q.waiters[1:]
			ch <- struct{}{}
			woken++
		}
		// drop drained queues so the table only holds contended words
		return len(q.waiters) == 0
	})
	return woken, nil
}

// Parked returns the number of waiters currently parked on addr.
func (p *ParkingLot) Parked(addr *uint32) int {
	var n int
	p.queues.RemoveCb(uintptr(unsafe.Pointer(addr)), func(_ uintptr, q *waitQueue, exists bool) bool {
		if exists {
			n = len(q.waiters)
		}
		return false
	})
	return n
}
