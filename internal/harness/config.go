package harness

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aradilov/mpsync"
)

// Config drives a Runner. The zero value is not usable, start from
// DefaultConfig or LoadConfig.
type Config struct {
	// Threads is the number of contending workers for the lock scenarios.
	Threads int `toml:"threads"`
	// Iterations is the number of critical sections per worker.
	Iterations int `toml:"iterations"`
	// PinThreads locks worker i to an OS thread bound to the (i mod n)-th CPU
	// of the process affinity mask, n being the mask's CPU count.
	PinThreads bool `toml:"pin_threads"`
	// Scenarios to run, in order. Empty means AllScenarios().
	Scenarios []string `toml:"scenarios"`

	Backoff BackoffConfig `toml:"backoff"`
	Queue   QueueConfig   `toml:"queue"`
	SeqLock SeqLockConfig `toml:"seqlock"`
	Ticket  TicketConfig  `toml:"ticket"`
}

// BackoffConfig mirrors mpsync.BackoffPolicy.
type BackoffConfig struct {
	SpinCycles uint32        `toml:"spin_cycles"`
	MinBackoff time.Duration `toml:"min_backoff"`
	MaxBackoff time.Duration `toml:"max_backoff"`
}

// Policy converts the config into the policy the primitives take.
func (c BackoffConfig) Policy() mpsync.BackoffPolicy {
	return mpsync.BackoffPolicy{
		SpinCycles: c.SpinCycles,
		MinBackoff: c.MinBackoff,
		MaxBackoff: c.MaxBackoff,
	}
}

// QueueConfig configures the spsc scenario.
type QueueConfig struct {
	Capacity uint64 `toml:"capacity"`
	Items    uint64 `toml:"items"`
	// Cached selects CachedSPSC instead of SPSC.
	Cached bool `toml:"cached"`
	// RetriesBeforeYield is how many failed Enqueue/Dequeue calls a side
	// makes before it yields the processor. 0 never yields.
	RetriesBeforeYield int `toml:"retries_before_yield"`
}

// SeqLockConfig configures the seqlock and rwlock scenarios.
type SeqLockConfig struct {
	Writers     int           `toml:"writers"`
	Readers     int           `toml:"readers"`
	Iterations  uint64        `toml:"iterations"`
	Increment   uint64        `toml:"increment"`
	ReaderPause time.Duration `toml:"reader_pause"`
}

// TicketConfig configures the ticket-fifo scenario.
type TicketConfig struct {
	Threads    int `toml:"threads"`
	Iterations int `toml:"iterations"`
}

// DefaultConfig returns a configuration sized for a quick run on the
// current machine.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 2 {
		threads = 2
	}
	p := mpsync.DefaultBackoffPolicy()
	return Config{
		Threads:    threads,
		Iterations: 1_000_000,
		Backoff: BackoffConfig{
			SpinCycles: p.SpinCycles,
			MinBackoff: p.MinBackoff,
			MaxBackoff: p.MaxBackoff,
		},
		Queue: QueueConfig{
			Capacity:           64,
			Items:              10_000_000,
			RetriesBeforeYield: 10,
		},
		SeqLock: SeqLockConfig{
			Writers:     2,
			Readers:     16,
			Iterations:  1_000_000,
			Increment:   10_000_000,
			ReaderPause: 10 * time.Microsecond,
		},
		Ticket: TicketConfig{
			Threads:    threads,
			Iterations: 1000,
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ScenarioNames returns the configured scenarios or all of them.
func (c Config) ScenarioNames() []string {
	if len(c.Scenarios) == 0 {
		return AllScenarios()
	}
	return c.Scenarios
}

// Validate reports every problem in c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be >= 1, got %d", c.Threads))
	}
	if c.Iterations < 1 {
		errs = append(errs, fmt.Errorf("iterations must be >= 1, got %d", c.Iterations))
	}
	if err := c.Backoff.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := mpsync.CheckCapacity(c.Queue.Capacity); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w (got %d)", err, c.Queue.Capacity))
	}
	if c.Queue.RetriesBeforeYield < 0 {
		errs = append(errs, fmt.Errorf("queue: retries_before_yield must be >= 0, got %d", c.Queue.RetriesBeforeYield))
	}
	if c.SeqLock.Writers < 1 || c.SeqLock.Readers < 1 {
		errs = append(errs, fmt.Errorf("seqlock: need at least one writer and one reader, got %d/%d", c.SeqLock.Writers, c.SeqLock.Readers))
	}
	if c.SeqLock.Increment == 0 {
		errs = append(errs, errors.New("seqlock: increment must be > 0"))
	}
	if c.Ticket.Threads < 1 || c.Ticket.Iterations < 1 {
		errs = append(errs, fmt.Errorf("ticket: threads and iterations must be >= 1, got %d/%d", c.Ticket.Threads, c.Ticket.Iterations))
	}
	for _, name := range c.Scenarios {
		if _, ok := scenarios[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownScenario, name))
		}
	}
	return errors.Join(errs...)
}
