package mpsync

import (
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexStateString(t *testing.T) {
	assert.Equal(t, "Unlocked", Unlocked.String())
	assert.Equal(t, "Locked", Locked.String())
	assert.Equal(t, "LockedWithWaiters", LockedWithWaiters.String())
	assert.Equal(t, "MutexState(7)", MutexState(7).String())
	assert.True(t, LockedWithWaiters.Valid())
	assert.False(t, MutexState(3).Valid())
}

func TestFutexMutexUncontended(t *testing.T) {
	m := NewFutexMutex(nil)
	require.Equal(t, Unlocked, m.State())

	m.Lock()
	assert.Equal(t, Locked, m.State())
	assert.False(t, m.TryLock(), "TryLock must fail while held")

	m.Unlock()
	assert.Equal(t, Unlocked, m.State())

	require.True(t, m.TryLock())
	m.Unlock()
	assert.Equal(t, Unlocked, m.State())
}

func TestFutexMutexUnlockUnlockedPanics(t *testing.T) {
	m := NewFutexMutex(NewParkingLot())
	assert.PanicsWithValue(t, "mpsync: unlock of unlocked FutexMutex", m.Unlock)
	assert.Equal(t, Unlocked, m.State(), "a bad unlock must not corrupt the word")
}

// A waiter blocked on a held mutex moves the word to LockedWithWaiters and
// is handed the lock by Unlock.
func TestFutexMutexContendedHandoff(t *testing.T) {
	for name, ww := range map[string]WaitWaker{"futex": Futex(), "parking": NewParkingLot()} {
		ww := ww
		t.Run(name, func(t *testing.T) {
			m := NewFutexMutex(ww)
			m.Lock()

			acquired := make(chan struct{})
			go func() {
				m.Lock()
				close(acquired)
			}()

			require.Eventually(t, func() bool {
				return m.State() == LockedWithWaiters
			}, 5*time.Second, time.Millisecond, "waiter never recorded itself")

			select {
			case <-acquired:
				t.Fatal("waiter entered while the mutex was held")
			case <-time.After(10 * time.Millisecond):
			}

			m.Unlock()
			select {
			case <-acquired:
			case <-time.After(5 * time.Second):
				t.Fatal("waiter was not woken by Unlock")
			}
			assert.Equal(t, LockedWithWaiters, m.State())
			m.Unlock()
			assert.Equal(t, Unlocked, m.State())
		})
	}
}

type failingWaitWaker struct{ err error }

func (f failingWaitWaker) Wait(*uint32, uint32) error { return f.err }

func (f failingWaitWaker) Wake(*uint32, int) (int, error) { return 0, f.err }

func TestFutexMutexWaitFailureIsFatal(t *testing.T) {
	m := NewFutexMutex(failingWaitWaker{err: syscall.EFAULT})
	m.Lock()

	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		m.Lock()
	}()

	var r any
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Lock did not fail")
	}
	err, ok := r.(error)
	require.True(t, ok, "panic value %v is not an error", r)

	var we *WaitError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "wait", we.Op)
	assert.Equal(t, uintptr(unsafe.Pointer(m.Word())), we.Addr)
	assert.ErrorIs(t, err, syscall.EFAULT)
}

func TestFutexMutexWakeFailureIsFatal(t *testing.T) {
	m := NewFutexMutex(failingWaitWaker{err: syscall.EINVAL})
	m.Lock()
	// pretend a waiter registered itself
	*m.Word() = uint32(LockedWithWaiters)

	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var we *WaitError
		require.ErrorAs(t, err, &we)
		assert.Equal(t, "wake", we.Op)
		assert.ErrorIs(t, err, syscall.EINVAL)
	}()
	m.Unlock()
}

func TestNewFutexMutexAt(t *testing.T) {
	var storage [4]uint32
	storage[1] = 0xdead

	m := NewFutexMutexAt(&storage[1], NewParkingLot())
	assert.Equal(t, uint32(Unlocked), storage[1], "word must be reset")
	assert.Same(t, &storage[1], m.Word())

	m.Lock()
	assert.Equal(t, uint32(Locked), storage[1])
	m.Unlock()

	assert.Panics(t, func() { NewFutexMutexAt(nil, nil) })
}

func TestFutexMutexAtMisalignedPanics(t *testing.T) {
	var buf [16]byte
	base := uintptr(unsafe.Pointer(&buf[0]))
	off := 1
	if (base+1)%4 == 0 {
		off = 2
	}
	word := (*uint32)(unsafe.Pointer(&buf[off]))
	assert.PanicsWithValue(t, "mpsync: lock word must be 4-byte aligned", func() {
		NewFutexMutexAt(word, nil)
	})
}

// The mutex must behave as sync.Locker with many goroutines piling up on it,
// which drives the waiter path hard.
func TestFutexMutexPileUp(t *testing.T) {
	for name, ww := range map[string]WaitWaker{"futex": Futex(), "parking": NewParkingLot()} {
		ww := ww
		t.Run(name, func(t *testing.T) {
			const goroutines = 64
			iterations := counterRounds(t, 2_000)

			m := NewFutexMutex(ww)
			var (
				wg      sync.WaitGroup
				counter int
			)
			wg.Add(goroutines)
			for g := 0; g < goroutines; g++ {
				go func() {
					defer wg.Done()
					for i := 0; i < iterations; i++ {
						m.Lock()
						counter++
						if i%64 == 0 {
							// hold long enough for others to park
							time.Sleep(time.Microsecond)
						}
						m.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, goroutines*iterations, counter)
			assert.Equal(t, Unlocked, m.State())
		})
	}
}
