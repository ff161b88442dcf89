package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/aradilov/mpsync"
)

func init() { register("ticket-fifo", ticketFIFO) }

// ticketFIFO records the ticket of every holder from inside the critical
// section. A ticket lock grants entry in issue order, so the log must read
// 0, 1, 2, ... with no gaps.
func ticketFIFO(ctx context.Context, e *env) (Result, error) {
	var (
		l       = mpsync.NewTicketLock(e.cfg.Backoff.Policy())
		threads = e.cfg.Ticket.Threads
		iters   = e.cfg.Ticket.Iterations
		order   = make([]uint32, 0, threads*iters)
	)

	began := time.Now()
	reports, err := e.pool.Run(ctx, threads, func(ctx context.Context, _ int) (uint64, error) {
		for i := 0; i < iters; i++ {
			if canceled(ctx, i) {
				return uint64(i), ctx.Err()
			}
			ticket := l.Acquire()
			order = append(order, ticket)
			l.Unlock()
		}
		return uint64(iters), nil
	})
	if err != nil {
		return Result{}, err
	}

	res := summarize("ticket-fifo", time.Since(began), reports)
	if len(order) != threads*iters {
		res.Failure = fmt.Errorf("%w: %d entries recorded, want %d", ErrVerify, len(order), threads*iters)
		return res, nil
	}
	for i, ticket := range order {
		if ticket != uint32(i) {
			res.Failure = fmt.Errorf("%w: entry %d went to ticket %d", ErrVerify, i, ticket)
			break
		}
	}
	return res, nil
}
