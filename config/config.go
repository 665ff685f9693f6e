// Package config holds the environment-observed runtime configuration
// shared by every PE: worker thread count, deadlock timeout, and the
// batching thresholds used by active-message groups and distributed-array
// batched operations.
package config

import (
	"os"
	"strconv"
	"time"
)

// RuntimeConfig models the process-wide, environment-observed options
// described in spec.md §6. Every field has a conservative default so a
// World can be built with no environment configured at all.
type RuntimeConfig struct {
	// Threads is the worker count per PE. LAMELLAR_THREADS env var.
	Threads int

	// DeadlockTimeout holds the configured deadlock timeout. No code in
	// this module reads it: no watchdog runs, and a job is never aborted
	// for lack of forward progress.
	DeadlockTimeout time.Duration

	// OpBatchSize is the AM-group eager-flush threshold (§4.3).
	OpBatchSize int

	// BatchOpSize holds the configured distributed-array batched-op
	// threshold (§4.5). No code in this module reads it; batched ops are
	// not split by it.
	BatchOpSize int

	// BatchOpThreads holds the configured goroutine count for array
	// batched ops. No code in this module reads it; batched ops are not
	// spread over that many goroutines.
	BatchOpThreads int
}

const (
	defaultThreads        = 1
	defaultDeadlock       = 0
	defaultOpBatchSize    = 64
	defaultBatchOpSize    = 1024
	defaultBatchOpThreads = 1
)

// Option configures a RuntimeConfig constructed via New.
type Option func(*RuntimeConfig)

// WithThreads overrides the worker-thread count.
func WithThreads(n int) Option {
	return func(c *RuntimeConfig) { c.Threads = n }
}

// WithDeadlockTimeout overrides the deadlock-detection timeout.
func WithDeadlockTimeout(d time.Duration) Option {
	return func(c *RuntimeConfig) { c.DeadlockTimeout = d }
}

// WithOpBatchSize overrides the AM-group eager-flush threshold.
func WithOpBatchSize(n int) Option {
	return func(c *RuntimeConfig) { c.OpBatchSize = n }
}

// WithBatchOpSize overrides the distributed-array batched-op threshold.
func WithBatchOpSize(n int) Option {
	return func(c *RuntimeConfig) { c.BatchOpSize = n }
}

// WithBatchOpThreads overrides the batched-op issuing concurrency.
func WithBatchOpThreads(n int) Option {
	return func(c *RuntimeConfig) { c.BatchOpThreads = n }
}

// FromEnv builds a RuntimeConfig from defaults, then the LAMELLAR_*
// environment variables, then the given options, in that priority order
// (options win). It is the entry point spec.md §6/§7's environment
// interface describes; New is its alias, kept for existing call sites.
func FromEnv(opts ...Option) RuntimeConfig {
	return New(opts...)
}

// New builds a RuntimeConfig from defaults, then environment variables,
// then the given options, in that priority order (options win).
func New(opts ...Option) RuntimeConfig {
	c := RuntimeConfig{
		Threads:        defaultThreads,
		DeadlockTimeout: defaultDeadlock,
		OpBatchSize:    defaultOpBatchSize,
		BatchOpSize:    defaultBatchOpSize,
		BatchOpThreads: defaultBatchOpThreads,
	}
	applyEnv(&c)
	for _, o := range opts {
		o(&c)
	}
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.OpBatchSize <= 0 {
		c.OpBatchSize = defaultOpBatchSize
	}
	if c.BatchOpSize <= 0 {
		c.BatchOpSize = defaultBatchOpSize
	}
	if c.BatchOpThreads <= 0 {
		c.BatchOpThreads = 1
	}
	return c
}

func applyEnv(c *RuntimeConfig) {
	if v, ok := envInt("LAMELLAR_THREADS"); ok {
		c.Threads = v
	}
	if v, ok := envDuration("LAMELLAR_DEADLOCK_TIMEOUT"); ok {
		c.DeadlockTimeout = v
	}
	if v, ok := envInt("LAMELLAR_OP_BATCH_SIZE"); ok {
		c.OpBatchSize = v
	}
	if v, ok := envInt("LAMELLAR_BATCH_OP_SIZE"); ok {
		c.BatchOpSize = v
	}
	if v, ok := envInt("LAMELLAR_BATCH_OP_THREADS"); ok {
		c.BatchOpThreads = v
	}
}

func envInt(name string) (int, bool) {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(name string) (time.Duration, bool) {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
