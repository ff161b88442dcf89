package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradilov/mpsync"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mpsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.GreaterOrEqual(t, cfg.Threads, 2)
	assert.Equal(t, AllScenarios(), cfg.ScenarioNames())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
threads = 4
iterations = 500
pin_threads = false
scenarios = ["counter/ticket", "spsc"]

[backoff]
spin_cycles = 32
min_backoff = "2us"
max_backoff = "1ms"

[queue]
capacity = 1024
items = 10000
cached = true

[seqlock]
writers = 1
readers = 3
reader_pause = "0s"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 500, cfg.Iterations)
	assert.Equal(t, []string{"counter/ticket", "spsc"}, cfg.ScenarioNames())
	assert.Equal(t, mpsync.BackoffPolicy{SpinCycles: 32, MinBackoff: 2 * time.Microsecond, MaxBackoff: time.Millisecond}, cfg.Backoff.Policy())
	assert.Equal(t, uint64(1024), cfg.Queue.Capacity)
	assert.True(t, cfg.Queue.Cached)
	assert.Equal(t, 1, cfg.SeqLock.Writers)
	assert.Equal(t, time.Duration(0), cfg.SeqLock.ReaderPause)

	// untouched keys keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.Queue.RetriesBeforeYield, cfg.Queue.RetriesBeforeYield)
	assert.Equal(t, def.SeqLock.Increment, cfg.SeqLock.Increment)
	assert.Equal(t, def.Ticket, cfg.Ticket)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "threads = 2\nthreds = 3\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threds")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"zero threads", func(c *Config) { c.Threads = 0 }, nil},
		{"zero iterations", func(c *Config) { c.Iterations = 0 }, nil},
		{"inverted backoff", func(c *Config) { c.Backoff.MinBackoff, c.Backoff.MaxBackoff = time.Second, time.Microsecond }, mpsync.ErrInvalidBackoff},
		{"odd capacity", func(c *Config) { c.Queue.Capacity = 100 }, mpsync.ErrCapacity},
		{"negative retries", func(c *Config) { c.Queue.RetriesBeforeYield = -1 }, nil},
		{"no readers", func(c *Config) { c.SeqLock.Readers = 0 }, nil},
		{"zero increment", func(c *Config) { c.SeqLock.Increment = 0 }, nil},
		{"no ticket threads", func(c *Config) { c.Ticket.Threads = 0 }, nil},
		{"unknown scenario", func(c *Config) { c.Scenarios = []string{"counter/nope"} }, ErrUnknownScenario},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "%v does not wrap %v", err, tt.target)
			}
		})
	}
}

func TestConfigValidateReportsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.Capacity = 3
	cfg.Scenarios = []string{"bogus"}
	err := cfg.Validate()
	assert.ErrorIs(t, err, mpsync.ErrCapacity)
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
