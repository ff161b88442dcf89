package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aradilov/mpsync"
)

type lockFactory struct {
	name string
	new  func(p mpsync.BackoffPolicy) sync.Locker
}

var counterLocks = []lockFactory{
	{"futex", func(mpsync.BackoffPolicy) sync.Locker { return mpsync.NewFutexMutex(nil) }},
	{"futex-parking", func(mpsync.BackoffPolicy) sync.Locker { return mpsync.NewFutexMutex(mpsync.NewParkingLot()) }},
	{"tas", func(p mpsync.BackoffPolicy) sync.Locker { return mpsync.NewTASLock(p) }},
	{"ttas", func(p mpsync.BackoffPolicy) sync.Locker { return mpsync.NewTTASLock(p) }},
	{"ticket", func(p mpsync.BackoffPolicy) sync.Locker { return mpsync.NewTicketLock(p) }},
	{"mutex", func(mpsync.BackoffPolicy) sync.Locker { return new(sync.Mutex) }},
}

func init() {
	for _, lf := range counterLocks {
		register("counter/"+lf.name, counterScenario(lf))
	}
}

// counterScenario has every worker increment one shared, unsynchronized
// counter under the lock. Any lost update shows the lock let two workers in.
func counterScenario(lf lockFactory) scenarioFunc {
	return func(ctx context.Context, e *env) (Result, error) {
		var (
			l       = lf.new(e.cfg.Backoff.Policy())
			counter uint64
			iters   = e.cfg.Iterations
			threads = e.cfg.Threads
		)

		began := time.Now()
		reports, err := e.pool.Run(ctx, threads, func(ctx context.Context, _ int) (uint64, error) {
			for i := 0; i < iters; i++ {
				if canceled(ctx, i) {
					return uint64(i), ctx.Err()
				}
				l.Lock()
				counter++
				l.Unlock()
			}
			return uint64(iters), nil
		})
		if err != nil {
			return Result{}, err
		}

		res := summarize("counter/"+lf.name, time.Since(began), reports)
		if want := uint64(threads) * uint64(iters); counter != want {
			res.Failure = fmt.Errorf("%w: counter = %d, want %d", ErrVerify, counter, want)
		}
		return res, nil
	}
}
