package mpsync

import "strconv"

// MutexState is the value of a FutexMutex lock word.
//
// Transitions:
//
//	Unlocked → Locked                     [Lock fast path, CAS]
//	Locked → LockedWithWaiters            [Lock slow path, swap]
//	LockedWithWaiters → LockedWithWaiters [woken waiter re-acquires, swap]
//	Unlocked → LockedWithWaiters          [woken waiter acquires, swap]
//	Locked → Unlocked                     [Unlock, decrement, no wake]
//	LockedWithWaiters → Unlocked          [Unlock, decrement + store, wake one]
type MutexState uint32

const (
	// Unlocked means nobody holds the mutex.
	Unlocked MutexState = 0
	// Locked means the mutex is held and no waiter has been recorded.
	Locked MutexState = 1
	// LockedWithWaiters means the mutex is held and at least one thread may
	// be blocked in the wait service, so Unlock must issue a wake.
	LockedWithWaiters MutexState = 2
)

// String returns a human-readable representation of the state.
func (s MutexState) String() string {
	switch s {
	case Unlocked:
		return "Unlocked"
	case Locked:
		return "Locked"
	case LockedWithWaiters:
		return "LockedWithWaiters"
	default:
		return "MutexState(" + strconv.FormatUint(uint64(s), 10) + ")"
	}
}

// Valid reports whether s is one of the three defined states.
func (s MutexState) Valid() bool {
	return s <= LockedWithWaiters
}
