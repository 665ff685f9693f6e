// Command indexgather runs one index-gather variant over a simulated
// in-process cluster and prints one JSON timing line per PE to stdout.
// It is a thin shim over package indexgather — see SPEC_FULL.md §6A.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pgasdart/runtime/bench"
	"github.com/pgasdart/runtime/indexgather"
	"github.com/pgasdart/runtime/world"
)

type runner interface {
	Run(ctx context.Context) (*indexgather.Result, error)
}

func build(variant string, w *world.World, cfg indexgather.Config) (runner, error) {
	switch variant {
	case "single":
		return indexgather.NewSingle(w, cfg), nil
	case "buffered":
		return indexgather.NewBuffered(w, cfg), nil
	case "group":
		return indexgather.NewGroup(w, cfg), nil
	default:
		return nil, fmt.Errorf("indexgather: unknown variant %q", variant)
	}
}

func parseIndices(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("indexgather: bad index %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func main() {
	fs := flag.NewFlagSet("indexgather", flag.ExitOnError)
	p := bench.RegisterFlags(fs)
	variant := fs.String("variant", "single", "index-gather variant to run")
	tableSize := fs.Int("table-size", 100_000, "size of the gathered table")
	indices := fs.String("indices", "0,50,99,0", "comma-separated indices to gather")
	_ = fs.Parse(os.Args[1:])

	idx, err := parseIndices(*indices)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := indexgather.Config{
		TableSize: *tableSize,
		Indices:   idx,
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

	results := make([]*indexgather.Result, len(ws))
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
			Millis:  bench.Millis(r.Time),
			Extra: map[string]any{
				"values": r.Values,
			},
		})
	}
}
