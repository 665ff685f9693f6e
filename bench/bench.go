// Package bench holds the small set of fields every cmd/ benchmark shim
// shares: how many simulated PEs to run and how many worker threads each
// gets. It is deliberately thin — per SPEC_FULL.md §6A the authoritative
// CLI and metadata recorder lives outside this module; these mains exist
// only so the core packages are runnable end-to-end.
package bench

import (
	"flag"
	"time"

	"github.com/pgasdart/runtime/config"
)

// Params is the common flag set every cmd/ main parses before adding its
// own benchmark-specific flags.
type Params struct {
	PEs         int
	Threads     int
	OpBatchSize int
	Seed        int64
}

// RegisterFlags adds the common flags to fs, returning the Params they'll
// populate once fs.Parse is called.
func RegisterFlags(fs *flag.FlagSet) *Params {
	p := &Params{}
	fs.IntVar(&p.PEs, "pes", 4, "number of simulated PEs")
	fs.IntVar(&p.Threads, "threads", 2, "worker threads per PE")
	fs.IntVar(&p.OpBatchSize, "op-batch-size", 64, "AM-group eager-flush threshold")
	fs.Int64Var(&p.Seed, "seed", 0, "base RNG seed")
	return p
}

// RuntimeConfig builds a config.RuntimeConfig from the parsed Params.
func (p Params) RuntimeConfig() config.RuntimeConfig {
	return config.New(
		config.WithThreads(p.Threads),
		config.WithOpBatchSize(p.OpBatchSize),
	)
}

// Report is the one JSON line printed per PE.
type Report struct {
	PE      int             `json:"pe"`
	Variant string          `json:"variant"`
	Millis  float64         `json:"duration_ms"`
	Extra   map[string]any  `json:"extra,omitempty"`
}

// Millis converts a time.Duration to the float64 milliseconds Report
// expects.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
