// Command randperm runs one randperm variant over a simulated in-process
// cluster and prints one JSON timing line per PE to stdout. It is a thin
// shim over package randperm — see SPEC_FULL.md §6A.
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
	"github.com/pgasdart/runtime/randperm"
	"github.com/pgasdart/runtime/world"
)

type runner interface {
	Run(ctx context.Context) (*randperm.Result, error)
}

func build(variant string, w *world.World, cfg randperm.Config) (runner, error) {
	switch variant {
	case "single_cas":
		return randperm.NewSingleCAS(w, cfg), nil
	case "single_cas_remote":
		return randperm.NewSingleCASRemote(w, cfg), nil
	case "push":
		return randperm.NewPush(w, cfg), nil
	case "push_group":
		return randperm.NewPushGroup(w, cfg), nil
	case "cas_group":
		return randperm.NewCASGroup(w, cfg), nil
	case "cas_group_remote":
		return randperm.NewCASGroupRemote(w, cfg), nil
	case "buffered_cas":
		return randperm.NewBufferedCAS(w, cfg), nil
	case "buffered_cas_remote":
		return randperm.NewBufferedCASRemote(w, cfg), nil
	case "array_cas":
		return randperm.NewArrayCAS(w, cfg), nil
	default:
		return nil, fmt.Errorf("randperm: unknown variant %q", variant)
	}
}

func main() {
	fs := flag.NewFlagSet("randperm", flag.ExitOnError)
	p := bench.RegisterFlags(fs)
	variant := fs.String("variant", "single_cas", "randperm variant to run")
	n := fs.Int("n", 1_000_000, "number of darts")
	targetFactor := fs.Int("target-factor", 2, "target table size as a multiple of n")
	bufferSize := fs.Int("buffer-size", 64, "per-destination buffer size for buffered variants")
	_ = fs.Parse(os.Args[1:])

	cfg := randperm.Config{
		N:             *n,
		TargetFactor:  *targetFactor,
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

	results := make([]*randperm.Result, len(ws))
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
		_ = enc.Encode(bench.Report{
			PE:      i,
			Variant: *variant,
			Millis:  bench.Millis(r.PermuteTime + r.CollectTime),
			Extra: map[string]any{
				"permute_ms": bench.Millis(r.PermuteTime),
				"collect_ms": bench.Millis(r.CollectTime),
				"local_len":  len(r.Local),
			},
		})
	}
}
