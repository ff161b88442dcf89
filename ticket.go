package mpsync

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

const counterPad = CacheLineSize - int(unsafe.Sizeof(atomic.Uint32{}))

// TicketLock is a FIFO-fair spin lock. Every acquirer draws a ticket from
// the dispenser and waits until the "now serving" counter reaches it, so
// the n-th caller of Lock is the n-th to enter. The price is that every
// Unlock invalidates the serving line in all waiting cores.
//
// Waiters poll with a pause hint for BackoffPolicy.SpinCycles rounds and
// then keep polling between runtime.Gosched calls.
//
// The zero value is an unlocked lock using DefaultBackoffPolicy.
type TicketLock struct {
	_       CacheLinePad
	next    atomic.Uint32 // ticket dispenser
	_       [counterPad]byte
	serving atomic.Uint32 // ticket of the current holder
	_       [counterPad]byte
	policy  BackoffPolicy
}

// NewTicketLock creates an unlocked TicketLock. It panics on an invalid
// policy like NewTASLock.
func NewTicketLock(p BackoffPolicy) *TicketLock {
	return &TicketLock{policy: p.resolve()}
}

// Acquire takes a ticket, waits for its turn and returns the ticket.
func (l *TicketLock) Acquire() uint32 {
	ticket := l.next.Add(1) - 1
	if l.serving.Load() == ticket {
		return ticket
	}

	spin := l.policy.orDefault().SpinCycles
	for i := uint32(0); i < spin; i++ {
		procyield(1)
		if l.serving.Load() == ticket {
			return ticket
		}
	}
	for l.serving.Load() != ticket {
		runtime.Gosched()
	}
	return ticket
}

// Lock waits for the caller's turn.
func (l *TicketLock) Lock() {
	l.Acquire()
}

// TryLock takes a ticket only if it would be served immediately.
func (l *TicketLock) TryLock() bool {
	s := l.serving.Load()
	return l.next.CompareAndSwap(s, s+1)
}

// Unlock passes the lock to the next ticket.
func (l *TicketLock) Unlock() {
	if l.serving.Load() == l.next.Load() {
		panic("mpsync: unlock of unlocked TicketLock")
	}
	l.serving.Add(1)
}

// Waiters returns the number of tickets drawn but not yet released,
// the holder included.
func (l *TicketLock) Waiters() uint32 {
	s := l.serving.Load()
	return l.next.Load() - s
}

// NowServing returns the ticket currently allowed to hold the lock.
func (l *TicketLock) NowServing() uint32 {
	return l.serving.Load()
}
