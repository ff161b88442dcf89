package mpsync

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/fastrand"
)

// Defaults for BackoffPolicy.
const (
	DefaultSpinCycles = 10
	DefaultMinBackoff = time.Microsecond
	DefaultMaxBackoff = 64 * time.Microsecond
)

// BackoffPolicy configures how a busy-waiting primitive escalates from
// spinning to sleeping. Zero fields take their DefaultBackoffPolicy value.
type BackoffPolicy struct {
	// SpinCycles bounds the read-only, pause-hinted spin done before the
	// first sleep (TTASLock) or before yielding (TicketLock).
	SpinCycles uint32
	// MinBackoff is the first sleep interval and the width of the random
	// jitter added to every interval. SeqLock writers sleep exactly this long.
	MinBackoff time.Duration
	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

// DefaultBackoffPolicy returns 10 spin cycles and 1µs..64µs sleeps.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		SpinCycles: DefaultSpinCycles,
		MinBackoff: DefaultMinBackoff,
		MaxBackoff: DefaultMaxBackoff,
	}
}

// Validate reports an error wrapping ErrInvalidBackoff for unusable intervals.
func (p BackoffPolicy) Validate() error {
	if p.MinBackoff <= 0 {
		return fmt.Errorf("%w: min backoff %v must be positive", ErrInvalidBackoff, p.MinBackoff)
	}
	if p.MaxBackoff < p.MinBackoff {
		return fmt.Errorf("%w: max backoff %v is below min backoff %v", ErrInvalidBackoff, p.MaxBackoff, p.MinBackoff)
	}
	return nil
}

// orDefault fills every zero field from DefaultBackoffPolicy. A MaxBackoff
// left zero never ends up below MinBackoff.
func (p BackoffPolicy) orDefault() BackoffPolicy {
	if p.SpinCycles == 0 {
		p.SpinCycles = DefaultSpinCycles
	}
	if p.MinBackoff == 0 {
		p.MinBackoff = DefaultMinBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = max(DefaultMaxBackoff, p.MinBackoff)
	}
	return p
}

// resolve fills p's zero fields and panics if the result is unusable.
func (p BackoffPolicy) resolve() BackoffPolicy {
	p = p.orDefault()
	if err := p.Validate(); err != nil {
		panic("mpsync: " + err.Error())
	}
	return p
}

// Backoff returns a fresh randomized exponential backoff driven by p.
func (p BackoffPolicy) Backoff() Backoff {
	return Backoff{policy: p.orDefault()}
}

// Backoff produces randomized, exponentially growing sleep intervals:
// each interval is the current base plus a random jitter in [0, MinBackoff),
// and the base doubles until it reaches MaxBackoff.
//
// A Backoff is owned by one goroutine. It satisfies backoff.BackOff and
// never returns backoff.Stop, so it can also drive backoff.Retry.
type Backoff struct {
	policy  BackoffPolicy
	current time.Duration
}

var _ backoff.BackOff = (*Backoff)(nil)

// NextBackOff returns the next sleep interval and advances the base.
func (b *Backoff) NextBackOff() time.Duration {
	if b.current == 0 {
		b.current = b.policy.MinBackoff
	}
	d := b.current + jitter(b.policy.MinBackoff)
	if b.current < b.policy.MaxBackoff {
		b.current *= 2
		if b.current > b.policy.MaxBackoff {
			b.current = b.policy.MaxBackoff
		}
	}
	return d
}

// Reset restarts the sequence at MinBackoff.
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep sleeps for NextBackOff.
func (b *Backoff) Sleep() {
	time.Sleep(b.NextBackOff())
}

func jitter(width time.Duration) time.Duration {
	if width <= 0 {
		return 0
	}
	if width > math.MaxUint32 {
		width = math.MaxUint32
	}
	return time.Duration(fastrand.Uint32n(uint32(width)))
}

// Spin issues the CPU spin-wait hint cycles times.
func Spin(cycles uint32) {
	if cycles > 0 {
		procyield(cycles)
	}
}

// Yield gives up the processor so other goroutines can run.
func Yield() {
	runtime.Gosched()
}
