package mpsync

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// WaitWaker is the address-keyed sleep service a FutexMutex blocks on.
//
// Wait must block the caller only if *addr still equals expected at the
// moment of the check, atomically with respect to Wake on the same address.
// It returns nil when woken, when woken spuriously, when interrupted, and
// when the value already differs. Wake wakes up to n threads blocked on addr
// and reports how many were woken.
type WaitWaker interface {
	Wait(addr *uint32, expected uint32) error
	Wake(addr *uint32, n int) (int, error)
}

// ErrNilAddress is reported by a WaitWaker given a nil word.
var ErrNilAddress = errors.New("mpsync: nil futex address")

// WaitError describes a wait/wake call that failed for a reason other than
// a changed value, a wakeup or an interruption.
type WaitError struct {
	Op   string
	Addr uintptr
	Err  error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("mpsync: futex %s on %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// FutexMutex is a three-state sleeping mutex: an uncontended Lock/Unlock pair
// costs one CAS and one atomic decrement and never enters the wait service.
//
// The lock word sits alone on its cache line unless the mutex was built over
// caller storage with NewFutexMutexAt, in which case placement is the
// caller's responsibility. A word that straddles two cache lines turns every
// atomic on it into a split lock and slows the mutex down by an order of
// magnitude.
//
// Wait and Wake are expected to succeed on a live, aligned word. Any other
// outcome is treated as a broken caller contract: Lock and Unlock panic with
// a *WaitError.
type FutexMutex struct {
	_    CacheLinePad
	word uint32
	_    [CacheLineSize - 4]byte
	key  *uint32
	ww   WaitWaker
}

// NewFutexMutex creates an unlocked mutex with its own padded lock word.
// A nil ww selects Futex().
func NewFutexMutex(ww WaitWaker) *FutexMutex {
	m := &FutexMutex{ww: ww}
	m.key = &m.word
	if m.ww == nil {
		m.ww = Futex()
	}
	return m
}

// NewFutexMutexAt creates a mutex whose lock word is *word. The word is reset
// to Unlocked. It must be 4-byte aligned, must stay addressable for the
// lifetime of the mutex and must not be touched by anything else.
func NewFutexMutexAt(word *uint32, ww WaitWaker) *FutexMutex {
	if word == nil {
		panic("mpsync: nil lock word")
	}
	if uintptr(unsafe.Pointer(word))%4 != 0 {
		panic("mpsync: lock word must be 4-byte aligned")
	}
	atomic.StoreUint32(word, uint32(Unlocked))
	if ww == nil {
		ww = Futex()
	}
	return &FutexMutex{key: word, ww: ww}
}

// Lock blocks until the calling thread holds the mutex.
func (m *FutexMutex) Lock() {
	if atomic.CompareAndSwapUint32(m.key, uint32(Unlocked), uint32(Locked)) {
		return
	}
	m.lockSlow()
}

func (m *FutexMutex) lockSlow() {
	// Once contended, the word stays LockedWithWaiters until an Unlock finds
	// it so, which may cost one unneeded wake but never loses one.
	c := atomic.SwapUint32(m.key, uint32(LockedWithWaiters))
	for c != uint32(Unlocked) {
		if err := m.ww.Wait(m.key, uint32(LockedWithWaiters)); err != nil {
			panic(m.waitError("wait", err))
		}
		c = atomic.SwapUint32(m.key, uint32(LockedWithWaiters))
	}
}

// TryLock acquires the mutex only if it is unlocked right now.
func (m *FutexMutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(m.key, uint32(Unlocked), uint32(Locked))
}

// Unlock releases the mutex and wakes at most one waiter.
// It must be called by the holder only.
func (m *FutexMutex) Unlock() {
	prev := MutexState(atomic.AddUint32(m.key, ^uint32(0)) + 1)
	switch prev {
	case Locked:
		return
	case Unlocked:
		atomic.StoreUint32(m.key, uint32(Unlocked))
		panic("mpsync: unlock of unlocked FutexMutex")
	}
	atomic.StoreUint32(m.key, uint32(Unlocked))
	if _, err := m.ww.Wake(m.key, 1); err != nil {
		panic(m.waitError("wake", err))
	}
}

// State returns the current value of the lock word.
func (m *FutexMutex) State() MutexState {
	return MutexState(atomic.LoadUint32(m.key))
}

// Word returns the address of the lock word, for placement checks.
func (m *FutexMutex) Word() *uint32 {
	return m.key
}

func (m *FutexMutex) waitError(op string, err error) error {
	var we *WaitError
	if errors.As(err, &we) {
		return we
	}
	return &WaitError{Op: op, Addr: uintptr(unsafe.Pointer(m.key)), Err: err}
}
