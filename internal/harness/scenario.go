package harness

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrVerify marks a run whose final state is wrong.
	ErrVerify = errors.New("verification failed")
	// ErrUnknownScenario is returned for a scenario name that is not registered.
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Result summarizes one scenario run.
type Result struct {
	Scenario string
	Workers  int
	Ops      uint64
	// Elapsed is the wall time from the common start to the last worker.
	Elapsed time.Duration
	// Fastest and Slowest are the per-worker elapsed extremes. A wide spread
	// means the lock favored some workers over others.
	Fastest time.Duration
	Slowest time.Duration
	// Failure wraps ErrVerify when the final state did not check out.
	Failure error
}

// OpsPerSecond is the aggregate throughput.
func (r Result) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// env is what a scenario gets to run with.
type env struct {
	cfg  Config
	pool *Pool
}

type scenarioFunc func(ctx context.Context, e *env) (Result, error)

var scenarios = map[string]scenarioFunc{}

// scenarioOrder is the order AllScenarios reports.
var scenarioOrder []string

func register(name string, fn scenarioFunc) {
	if _, dup := scenarios[name]; dup {
		panic("harness: duplicate scenario " + name)
	}
	scenarios[name] = fn
	scenarioOrder = append(scenarioOrder, name)
}

// AllScenarios returns every registered scenario name.
func AllScenarios() []string {
	return append([]string(nil), scenarioOrder...)
}

// summarize folds worker reports into a Result.
func summarize(name string, elapsed time.Duration, reports []WorkerReport) Result {
	res := Result{Scenario: name, Workers: len(reports), Elapsed: elapsed}
	if len(reports) == 0 {
		return res
	}
	times := make([]time.Duration, len(reports))
	for i, r := range reports {
		res.Ops += r.Ops
		times[i] = r.Elapsed
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	res.Fastest, res.Slowest = times[0], times[len(times)-1]
	return res
}

// canceled is polled by workers every cancelCheck iterations.
const cancelCheck = 1 << 10

func canceled(ctx context.Context, i int) bool {
	return i&(cancelCheck-1) == 0 && ctx.Err() != nil
}
