// Package harness runs contention scenarios against the mpsync primitives
// and checks that each one left a consistent result behind.
package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Runner executes scenarios one after another on a shared worker pool.
type Runner struct {
	cfg      Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	pool     *Pool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithRegistry registers the runner's metrics with reg instead of a fresh
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// NewRunner validates cfg and starts a worker pool large enough for every
// configured scenario.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	r := &Runner{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.metrics = NewMetrics(r.registry)

	size := max(cfg.Threads, cfg.Ticket.Threads, cfg.SeqLock.Writers+cfg.SeqLock.Readers, 2)
	pool, err := NewPool(size, cfg.PinThreads, r.log)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Registry returns the registry holding the runner's metrics.
func (r *Runner) Registry() *prometheus.Registry { return r.registry }

// Close releases the worker pool.
func (r *Runner) Close() { r.pool.Release() }

// Run executes the configured scenarios in order. Verification failures do
// not stop the run; they are joined into the returned error, which then
// matches ErrVerify. Any other error, including cancellation, stops the run
// and is returned with the results gathered so far.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	e := &env{cfg: r.cfg, pool: r.pool}

	var (
		results  []Result
		failures []error
	)
	for _, name := range r.cfg.ScenarioNames() {
		fn, ok := scenarios[name]
		if !ok {
			return results, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
		}

		r.log.Debug().Str("scenario", name).Msg("starting")
		res, err := fn(ctx, e)
		if err != nil {
			r.log.Error().Err(err).Str("scenario", name).Msg("scenario aborted")
			return results, fmt.Errorf("scenario %s: %w", name, err)
		}
		r.metrics.Observe(res)
		results = append(results, res)

		ev := r.log.Info()
		if res.Failure != nil {
			ev = r.log.Error().Err(res.Failure)
			failures = append(failures, fmt.Errorf("scenario %s: %w", name, res.Failure))
		}
		ev.Str("scenario", name).
			Int("workers", res.Workers).
			Uint64("ops", res.Ops).
			Dur("elapsed", res.Elapsed).
			Dur("fastest", res.Fastest).
			Dur("slowest", res.Slowest).
			Float64("ops_per_sec", res.OpsPerSecond()).
			Msg("scenario finished")
	}
	return results, errors.Join(failures...)
}
