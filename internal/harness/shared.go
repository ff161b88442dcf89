package harness

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/mpsync"
)

// sharedValue is a 64-bit value updated by writers and polled by readers.
type sharedValue interface {
	Add(delta uint64)
	Load() uint64
}

type seqValue struct{ v *mpsync.Seq64 }

func (s seqValue) Add(delta uint64) { s.v.Add(delta) }
func (s seqValue) Load() uint64     { return s.v.Load() }

type rwValue struct {
	mu sync.RWMutex
	v  uint64
}

func (r *rwValue) Add(delta uint64) {
	r.mu.Lock()
	r.v += delta
	r.mu.Unlock()
}

func (r *rwValue) Load() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.v
}

func init() {
	register("seqlock", sharedScenario("seqlock", func(p mpsync.BackoffPolicy) sharedValue {
		return seqValue{mpsync.NewSeq64(p)}
	}))
	register("rwlock", sharedScenario("rwlock", func(mpsync.BackoffPolicy) sharedValue {
		return new(rwValue)
	}))
}

// sharedScenario runs W writers adding the increment K times each while R
// readers poll until they see the final value W*K*I. Every value a reader
// sees must be a multiple of I and must never go backwards; anything else
// is a torn or stale read.
func sharedScenario(name string, newValue func(mpsync.BackoffPolicy) sharedValue) scenarioFunc {
	return func(ctx context.Context, e *env) (Result, error) {
		var (
			c       = e.cfg.SeqLock
			v       = newValue(e.cfg.Backoff.Policy())
			final   = uint64(c.Writers) * c.Iterations * c.Increment
			torn    atomic.Uint64
			settled atomic.Int64
		)

		began := time.Now()
		reports, err := e.pool.Run(ctx, c.Writers+c.Readers, func(ctx context.Context, worker int) (uint64, error) {
			if worker < c.Writers {
				for i := uint64(0); i < c.Iterations; i++ {
					if canceled(ctx, int(i)) {
						return i, ctx.Err()
					}
					v.Add(c.Increment)
				}
				return c.Iterations, nil
			}

			var reads, last uint64
			for {
				if canceled(ctx, int(reads)) {
					return reads, ctx.Err()
				}
				got := v.Load()
				reads++
				if got%c.Increment != 0 || got > final || got < last {
					torn.Add(1)
				}
				last = got
				if got == final {
					settled.Add(1)
					return reads, nil
				}
				if c.ReaderPause > 0 {
					time.Sleep(c.ReaderPause)
				} else {
					runtime.Gosched()
				}
			}
		})
		if err != nil {
			return Result{}, err
		}

		res := summarize(name, time.Since(began), reports)
		switch {
		case torn.Load() != 0:
			res.Failure = fmt.Errorf("%w: %d inconsistent reads", ErrVerify, torn.Load())
		case v.Load() != final:
			res.Failure = fmt.Errorf("%w: final value %d, want %d", ErrVerify, v.Load(), final)
		case settled.Load() != int64(c.Readers):
			res.Failure = fmt.Errorf("%w: %d of %d readers saw the final value", ErrVerify, settled.Load(), c.Readers)
		}
		return res, nil
	}
}
