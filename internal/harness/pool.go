package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// WorkerFunc is the body of one worker. It returns the number of operations
// it completed.
type WorkerFunc func(ctx context.Context, worker int) (uint64, error)

// Pool runs a fixed number of workers that all start at the same instant.
// With pinning enabled, worker i runs on its own OS thread bound to the
// i-th allowed CPU, wrapping around.
type Pool struct {
	workers *ants.Pool
	pin     bool
	cpus    []int
	log     zerolog.Logger
}

var errPinUnsupported = errors.New("thread pinning is not supported on " + runtime.GOOS)

// NewPool creates a pool able to run up to size workers at once.
func NewPool(size int, pin bool, log zerolog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	if pin && !pinSupported {
		return nil, errPinUnsupported
	}

	logical, err := cpu.Counts(true)
	if err != nil || logical < 1 {
		log.Debug().Err(err).Msg("falling back to runtime.NumCPU")
		logical = runtime.NumCPU()
	}
	cpus, err := allowedCPUs(logical)
	if err != nil {
		return nil, err
	}

	workers, err := ants.NewPool(size,
		ants.WithPreAlloc(true),
		ants.WithLogger(&log),
		ants.WithPanicHandler(func(v any) {
			log.Error().Interface("panic", v).Msg("worker task panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	log.Debug().Int("size", size).Bool("pin", pin).Ints("cpus", cpus).Msg("worker pool ready")
	return &Pool{workers: workers, pin: pin, cpus: cpus, log: log}, nil
}

// Size returns the maximum number of concurrent workers.
func (p *Pool) Size() int { return p.workers.Cap() }

// CPUs returns the CPUs workers are pinned to, in assignment order.
func (p *Pool) CPUs() []int { return p.cpus }

// Release stops the pool's goroutines.
func (p *Pool) Release() { p.workers.Release() }

// Run starts n workers, releases them together, and waits for all of them.
// Reports come back indexed by worker. The first worker error cancels the
// context passed to the others and is returned.
func (p *Pool) Run(ctx context.Context, n int, fn WorkerFunc) ([]WorkerReport, error) {
	if n < 1 || n > p.Size() {
		return nil, fmt.Errorf("cannot run %d workers on a pool of %d", n, p.Size())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		ring   = newReportRing(n)
		done   = make(chan struct{}, n)
		start  = make(chan struct{})
		queued int
		err    error
	)
	for i := 0; i < n; i++ {
		i := i
		if err = p.workers.Submit(func() {
			ring.pushWait(p.work(ctx, i, start, fn))
			done <- struct{}{}
		}); err != nil {
			err = fmt.Errorf("submit worker %d: %w", i, err)
			cancel()
			break
		}
		queued++
	}
	close(start)

	reports := make([]WorkerReport, n)
	for received := 0; received < queued; {
		<-done
		for {
			r, ok := ring.pop()
			if !ok {
				break
			}
			received++
			reports[r.Worker] = r
			if r.Err != nil {
				cancel()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	for _, r := range reports {
		if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
			return reports, r.Err
		}
	}
	for _, r := range reports {
		if r.Err != nil {
			return reports, r.Err
		}
	}
	return reports, nil
}

func (p *Pool) work(ctx context.Context, i int, start <-chan struct{}, fn WorkerFunc) (r WorkerReport) {
	r.Worker = i
	defer func() {
		if v := recover(); v != nil {
			r.Err = fmt.Errorf("worker %d panicked: %v", i, v)
		}
	}()

	if p.pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		restore, err := pinThread(p.cpus[i%len(p.cpus)])
		if err != nil {
			r.Err = fmt.Errorf("worker %d: %w", i, err)
			return r
		}
		defer restore()
	}

	select {
	case <-start:
	case <-ctx.Done():
		r.Err = ctx.Err()
		return r
	}

	began := time.Now()
	r.Ops, r.Err = fn(ctx, i)
	r.Elapsed = time.Since(began)
	return r
}
