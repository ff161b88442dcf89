// Package mpsync holds low-level shared-memory synchronization primitives:
// a futex-backed mutex, test-and-set spin locks with backoff, a FIFO ticket
// lock, a sequence lock and single-producer/single-consumer ring buffers.
//
// None of the primitives depend on each other. Every one of them must be
// initialized before concurrent use and must not be copied afterwards.
package mpsync

import (
	"errors"
	"sync"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is the coherence granule the padded layouts are built for.
const CacheLineSize = int(unsafe.Sizeof(cpu.CacheLinePad{}))

// CacheLinePad isolates the field that follows it from the fields before it.
type CacheLinePad = cpu.CacheLinePad

var (
	// ErrCapacity is returned for a queue capacity that is zero or not a power of two.
	ErrCapacity = errors.New("mpsync: capacity must be power of 2 and > 0")

	// ErrInvalidBackoff is returned by BackoffPolicy.Validate.
	ErrInvalidBackoff = errors.New("mpsync: invalid backoff policy")
)

var (
	_ sync.Locker = (*FutexMutex)(nil)
	_ sync.Locker = (*TASLock)(nil)
	_ sync.Locker = (*TTASLock)(nil)
	_ sync.Locker = (*TicketLock)(nil)
)

// CheckCapacity reports whether capacity can back a ring buffer.
func CheckCapacity(capacity uint64) error {
	if capacity == 0 || (capacity&(capacity-1)) != 0 {
		return ErrCapacity
	}
	return nil
}
