package am_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
)

type writeStatic struct{ ArrayID int }
type writeDynamic struct {
	Index int
	Value int
}

type writeMember struct {
	ArrayID int
	Index   int
	Value   int
}

func (m writeMember) StaticFields() writeStatic   { return writeStatic{ArrayID: m.ArrayID} }
func (m writeMember) DynamicFields() writeDynamic { return writeDynamic{Index: m.Index, Value: m.Value} }

func TestGroup_FlushesOnMaxSizeAndPreservesAddOrder(t *testing.T) {
	c := newCluster(t, 2)

	var seen []writeDynamic
	typeID := am.RegisterGroupHandler(c.dispatchers[1], "group-write", func(ctx context.Context, src int, static writeStatic, dynamics []writeDynamic) ([]bool, error) {
		seen = append(seen, dynamics...)
		res := make([]bool, len(dynamics))
		for i := range dynamics {
			res[i] = true
		}
		return res, nil
	})

	g := am.NewGroup[writeMember, writeStatic, writeDynamic, bool](c.dispatchers[0], typeID, 2, time.Hour)

	h1, err := g.AddPE(context.Background(), 1, writeMember{ArrayID: 7, Index: 0, Value: 100})
	require.NoError(t, err)
	h2, err := g.AddPE(context.Background(), 1, writeMember{ArrayID: 7, Index: 1, Value: 200})
	require.NoError(t, err)

	v1, err := h1.Await(context.Background())
	require.NoError(t, err)
	require.True(t, v1)
	v2, err := h2.Await(context.Background())
	require.NoError(t, err)
	require.True(t, v2)

	require.Equal(t, []writeDynamic{{Index: 0, Value: 100}, {Index: 1, Value: 200}}, seen)
}

func TestGroup_StaticFieldChangeFlushesPreviousCohort(t *testing.T) {
	c := newCluster(t, 2)

	statics := make(chan writeStatic, 8)
	typeID := am.RegisterGroupHandler(c.dispatchers[1], "group-write-2", func(ctx context.Context, src int, static writeStatic, dynamics []writeDynamic) ([]bool, error) {
		statics <- static
		res := make([]bool, len(dynamics))
		for i := range dynamics {
			res[i] = true
		}
		return res, nil
	})

	// Large threshold: only a static-field change should force a flush.
	g := am.NewGroup[writeMember, writeStatic, writeDynamic, bool](c.dispatchers[0], typeID, 100, time.Hour)

	h1, err := g.AddPE(context.Background(), 1, writeMember{ArrayID: 1, Index: 0, Value: 1})
	require.NoError(t, err)
	h2, err := g.AddPE(context.Background(), 1, writeMember{ArrayID: 2, Index: 1, Value: 2})
	require.NoError(t, err)

	v1, err := h1.Await(context.Background())
	require.NoError(t, err)
	require.True(t, v1)

	require.NoError(t, g.Exec(context.Background()))
	v2, err := h2.Await(context.Background())
	require.NoError(t, err)
	require.True(t, v2)

	close(statics)
	var got []writeStatic
	for s := range statics {
		got = append(got, s)
	}
	require.ElementsMatch(t, []writeStatic{{ArrayID: 1}, {ArrayID: 2}}, got)
}

func TestGroup_ExecFlushesPendingBatch(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterGroupHandler(c.dispatchers[1], "group-write-3", func(ctx context.Context, src int, static writeStatic, dynamics []writeDynamic) ([]bool, error) {
		res := make([]bool, len(dynamics))
		for i := range dynamics {
			res[i] = true
		}
		return res, nil
	})

	g := am.NewGroup[writeMember, writeStatic, writeDynamic, bool](c.dispatchers[0], typeID, 1000, time.Hour)
	h, err := g.AddPE(context.Background(), 1, writeMember{ArrayID: 9, Index: 0, Value: 1})
	require.NoError(t, err)

	require.NoError(t, g.Exec(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := h.Await(ctx)
	require.NoError(t, err)
	require.True(t, v)
}
