package mpsync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqLockWriteProtocol(t *testing.T) {
	l := NewSeqLock(BackoffPolicy{})
	require.Equal(t, uint32(0), l.Sequence())

	seq := l.BeginWrite()
	assert.Equal(t, uint32(0), seq)
	assert.Equal(t, uint32(1), l.Sequence(), "counter must be odd during a write")

	r := l.ReadBegin()
	assert.True(t, l.ReadRetry(r), "a read started during a write must retry")

	l.EndWrite(seq)
	assert.Equal(t, uint32(2), l.Sequence())

	r = l.ReadBegin()
	assert.False(t, l.ReadRetry(r))

	l.Write(func() {})
	assert.True(t, l.ReadRetry(r), "a read overlapping a completed write must retry")
}

// A second writer waits until the first one publishes.
func TestSeqLockWritersExclude(t *testing.T) {
	l := NewSeqLock(BackoffPolicy{MinBackoff: time.Microsecond, MaxBackoff: time.Microsecond})
	seq := l.BeginWrite()

	entered := make(chan uint32)
	go func() { entered <- l.BeginWrite() }()

	select {
	case <-entered:
		t.Fatal("second writer entered during a write")
	case <-time.After(10 * time.Millisecond):
	}

	l.EndWrite(seq)
	select {
	case s := <-entered:
		assert.Equal(t, uint32(2), s)
		l.EndWrite(s)
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never entered")
	}
	assert.Equal(t, uint32(4), l.Sequence())
}

func TestSeq64Basic(t *testing.T) {
	v := NewSeq64(BackoffPolicy{})
	assert.Equal(t, uint64(0), v.Load())

	v.Store(0x1234_5678_9abc_def0)
	assert.Equal(t, uint64(0x1234_5678_9abc_def0), v.Load())

	// carry from the low half into the high half
	v.Store(0xffff_ffff)
	assert.Equal(t, uint64(0x1_0000_0000), v.Add(1))

	got, ok := v.TryLoad()
	require.True(t, ok)
	assert.Equal(t, uint64(0x1_0000_0000), got)
	assert.Equal(t, uint32(6), v.Sequence())
}

func TestSeq64TryLoadDuringWrite(t *testing.T) {
	v := NewSeq64(BackoffPolicy{})
	seq := v.lock.BeginWrite()
	_, ok := v.TryLoad()
	assert.False(t, ok)
	v.lock.EndWrite(seq)
	_, ok = v.TryLoad()
	assert.True(t, ok)
}

// Torn reads: the increment bumps both halves by one, so any consistent
// value has hi == lo. A reader seeing hi != lo combined halves of two
// different writes. Every reader keeps polling until it sees the final
// value 2·K·I.
func TestSeq64NoTornReads(t *testing.T) {
	const (
		writers   = 2
		readers   = 8
		increment = uint64(1)<<32 | 1
	)
	iterations := uint64(counterRounds(t, 200_000))
	final := writers * iterations * increment

	v := NewSeq64(BackoffPolicy{MinBackoff: 100 * time.Nanosecond, MaxBackoff: 100 * time.Nanosecond})

	var (
		wg    sync.WaitGroup
		torn  atomic.Uint64
		reads atomic.Uint64
	)

	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for i := uint64(0); i < iterations; i++ {
				v.Add(increment)
			}
		}()
	}

	wg.Add(readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer wg.Done()
			var last uint64
			for {
				got := v.Load()
				reads.Add(1)
				if uint32(got>>32) != uint32(got) || got%increment != 0 {
					torn.Add(1)
				}
				if got < last {
					torn.Add(1)
				}
				last = got
				if got == final {
					return
				}
				runtime.Gosched()
			}
		}()
	}

	wg.Wait()
	require.Zero(t, torn.Load(), "readers observed torn or regressing values")
	assert.Equal(t, final, v.Load())
	assert.Equal(t, uint32(2*writers*iterations), v.Sequence())
	t.Logf("%d consistent reads", reads.Load())
}

func BenchmarkSeq64Load(b *testing.B) {
	v := NewSeq64(BackoffPolicy{})
	v.Store(42)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if v.Load() != 42 {
				b.Fatal("unexpected value")
			}
		}
	})
}
