package mpsync

import (
	"sync/atomic"
	"unsafe"
)

const flagPad = CacheLineSize - int(unsafe.Sizeof(atomic.Bool{}))

// TASLock is a test-and-set spin lock. A failed test-and-set sleeps for a
// randomized exponential backoff before the next attempt, which bounds the
// cache-line traffic generated by waiters.
//
// There is no fairness: a waiter may lose every race for as long as the lock
// stays contended.
//
// The zero value is an unlocked lock using DefaultBackoffPolicy.
type TASLock struct {
	_      CacheLinePad
	held   atomic.Bool
	_      [flagPad]byte
	policy BackoffPolicy
}

// NewTASLock creates an unlocked TASLock. It panics if p, with its zero
// fields defaulted, fails Validate.
func NewTASLock(p BackoffPolicy) *TASLock {
	return &TASLock{policy: p.resolve()}
}

// Lock spins until the lock is held by the caller.
func (l *TASLock) Lock() {
	if !l.held.Swap(true) {
		return
	}
	b := l.policy.Backoff()
	for l.held.Swap(true) {
		b.Sleep()
	}
}

// TryLock makes one test-and-set attempt.
func (l *TASLock) TryLock() bool {
	return !l.held.Swap(true)
}

// Unlock releases the lock.
func (l *TASLock) Unlock() {
	if !l.held.Load() {
		panic("mpsync: unlock of unlocked TASLock")
	}
	l.held.Store(false)
}

// Locked reports whether the lock is currently held.
func (l *TASLock) Locked() bool {
	return l.held.Load()
}

// TTASLock is a test-and-test-and-set spin lock. Waiters watch the flag with
// plain loads, which stay in their own cache while the holder keeps the
// line, and only attempt the invalidating test-and-set once the flag reads
// free. A bounded pause-hinted read spin precedes the backoff sleeps.
//
// Like TASLock it is unfair.
//
// The zero value is an unlocked lock using DefaultBackoffPolicy.
type TTASLock struct {
	_      CacheLinePad
	held   atomic.Bool
	_      [flagPad]byte
	policy BackoffPolicy
}

// NewTTASLock creates an unlocked TTASLock. It panics on an invalid policy
// like NewTASLock.
func NewTTASLock(p BackoffPolicy) *TTASLock {
	return &TTASLock{policy: p.resolve()}
}

// Lock spins until the lock is held by the caller.
func (l *TTASLock) Lock() {
	if l.TryLock() {
		return
	}
	l.lockSlow()
}

func (l *TTASLock) lockSlow() {
	p := l.policy.orDefault()
	for i := uint32(0); i < p.SpinCycles && l.held.Load(); i++ {
		procyield(1)
	}
	b := p.Backoff()
	for {
		if l.held.Load() {
			b.Sleep()
			continue
		}
		if !l.held.Swap(true) {
			return
		}
	}
}

// TryLock makes one test-and-test-and-set attempt.
func (l *TTASLock) TryLock() bool {
	return !l.held.Load() && !l.held.Swap(true)
}

// Unlock releases the lock.
func (l *TTASLock) Unlock() {
	if !l.held.Load() {
		panic("mpsync: unlock of unlocked TTASLock")
	}
	l.held.Store(false)
}

// Locked reports whether the lock is currently held.
func (l *TTASLock) Locked() bool {
	return l.held.Load()
}
