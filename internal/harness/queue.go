package harness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aradilov/mpsync"
)

func init() { register("spsc", spscStream) }

// retrier paces one side of the queue while the other side catches up.
type retrier struct {
	ctx      context.Context
	abort    *atomic.Bool
	every    int
	failures int
}

// miss records a failed Enqueue or Dequeue. It yields every r.every misses
// and returns an error once the run is canceled or the peer gave up.
func (r *retrier) miss() error {
	r.failures++
	if r.abort.Load() {
		return context.Canceled
	}
	if canceled(r.ctx, r.failures) {
		return r.ctx.Err()
	}
	if r.every > 0 && r.failures%r.every == 0 {
		mpsync.Yield()
	}
	return nil
}

// spscStream has worker 0 produce 0..Items-1 and worker 1 consume and check
// that it receives exactly that sequence.
func spscStream(ctx context.Context, e *env) (Result, error) {
	var (
		c        = e.cfg.Queue
		q        mpsync.Queue[uint64]
		abort    atomic.Bool
		mismatch error
	)
	if c.Cached {
		q = mpsync.NewCachedSPSC[uint64](c.Capacity)
	} else {
		q = mpsync.NewSPSC[uint64](c.Capacity)
	}

	began := time.Now()
	reports, err := e.pool.Run(ctx, 2, func(ctx context.Context, worker int) (uint64, error) {
		r := retrier{ctx: ctx, abort: &abort, every: c.RetriesBeforeYield}
		if worker == 0 {
			for i := uint64(0); i < c.Items; i++ {
				for !q.Enqueue(i) {
					if err := r.miss(); err != nil {
						return i, err
					}
				}
			}
			return c.Items, nil
		}

		for want := uint64(0); want < c.Items; want++ {
			got, ok := q.Dequeue()
			for !ok {
				if err := r.miss(); err != nil {
					return want, err
				}
				got, ok = q.Dequeue()
			}
			if got != want {
				mismatch = fmt.Errorf("%w: dequeued %d, want %d", ErrVerify, got, want)
				abort.Store(true)
				return want, nil
			}
		}
		return c.Items, nil
	})

	if mismatch != nil {
		res := summarize("spsc", time.Since(began), reports)
		res.Failure = mismatch
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := summarize("spsc", time.Since(began), reports)
	if n := q.Len(); n != 0 {
		res.Failure = fmt.Errorf("%w: %d items left in the queue", ErrVerify, n)
	}
	return res, nil
}
