// Command histogram runs one histogram variant over a simulated
// in-process cluster and prints one JSON timing line per PE to stdout.
// It is a thin shim over package histogram — see SPEC_FULL.md §6A.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pgasdart/runtime/bench"
	"github.com/pgasdart/runtime/histogram"
	"github.com/pgasdart/runtime/world"
)

type runner interface {
	Run(ctx context.Context) (*histogram.Result, error)
}

func build(variant string, w *world.World, cfg histogram.Config) (runner, error) {
	switch variant {
	case "safe":
		return histogram.NewSafe(w, cfg), nil
	case "buffered":
		return histogram.NewBuffered(w, cfg), nil
	default:
		return nil, fmt.Errorf("histogram: unknown variant %q", variant)
	}
}

func main() {
	fs := flag.NewFlagSet("histogram", flag.ExitOnError)
	p := bench.RegisterFlags(fs)
	variant := fs.String("variant", "safe", "histogram variant to run")
	numBuckets := fs.Int("buckets", 1024, "number of histogram buckets")
	updates := fs.Int("updates", 1_000_000, "number of updates")
	bufferSize := fs.Int("buffer-size", 64, "per-destination buffer size for the buffered variant")
	_ = fs.Parse(os.Args[1:])

	cfg := histogram.Config{
		NumBuckets:    *numBuckets,
		Updates:       *updates,
		LaunchThreads: p.Threads,
		BufferSize:    *bufferSize,
		Seed:          p.Seed,
	}

	ws := world.BuildLoopbackCluster(p.PEs, p.RuntimeConfig(), nil)
	defer func() {
		for _, w := range ws {
			_ = w.Close()
		}
	}()

	runners := make([]runner, len(ws))
	for i, w := range ws {
		r, err := build(*variant, w, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		runners[i] = r
	}

	results := make([]*histogram.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	for i := range runners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			results[i], errs[i] = runners[i].Run(ctx)
		}(i)
	}
	wg.Wait()

	enc := json.NewEncoder(os.Stdout)
	for i, err := range errs {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		r := results[i]
		var sum uint64
		for _, c := range r.Counts {
			sum += c
		}
		_ = enc.Encode(bench.Report{
			PE:      i,
			Variant: *variant,
			Millis:  bench.Millis(r.Time),
			Extra: map[string]any{
				"bucket_sum": sum,
			},
		})
	}
}
