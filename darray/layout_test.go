package darray_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/darray"
)

func TestLayoutBlock_OwnerAndOffset(t *testing.T) {
	l := darray.NewLayout(10, 3, darray.Block)
	require.Equal(t, 4, l.ElemsPerPE)

	require.Equal(t, 0, l.Owner(0))
	require.Equal(t, 0, l.Owner(3))
	require.Equal(t, 1, l.Owner(4))
	require.Equal(t, 2, l.Owner(8))
	require.Equal(t, 2, l.Owner(9))

	require.Equal(t, 4, l.LocalLen(0))
	require.Equal(t, 4, l.LocalLen(1))
	require.Equal(t, 2, l.LocalLen(2)) // last PE owns fewer

	require.Equal(t, 9, l.GlobalIndex(l.Owner(9), l.LocalOffset(9)))
}

func TestLayoutCyclic_OwnerAndOffset(t *testing.T) {
	l := darray.NewLayout(10, 3, darray.Cyclic)

	require.Equal(t, 0, l.Owner(0))
	require.Equal(t, 1, l.Owner(1))
	require.Equal(t, 2, l.Owner(2))
	require.Equal(t, 0, l.Owner(3))

	require.Equal(t, 4, l.LocalLen(0)) // 0,3,6,9
	require.Equal(t, 3, l.LocalLen(1)) // 1,4,7
	require.Equal(t, 3, l.LocalLen(2)) // 2,5,8

	for i := 0; i < 10; i++ {
		require.Equal(t, i, l.GlobalIndex(l.Owner(i), l.LocalOffset(i)))
	}
}

func TestLayout_ZeroLengthLocalIsValid(t *testing.T) {
	l := darray.NewLayout(2, 5, darray.Block)
	require.Equal(t, 0, l.LocalLen(4))
}
