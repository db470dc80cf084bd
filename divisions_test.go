package armada

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDivisionsValidate(t *testing.T) {
	require.NoError(t, Divisions{int64(1), int64(3), int64(3), int64(9)}.Validate())

	err := Divisions{int64(1), int64(5), int64(2)}.Validate()
	var nonMono *NonMonotonicDivisionsError
	require.ErrorAs(t, err, &nonMono)
	require.Equal(t, 2, nonMono.Index)
}

func TestDivisionsKnown(t *testing.T) {
	var unknown Divisions
	require.False(t, unknown.Known())
	require.Equal(t, 0, unknown.NPartitions())

	d := Divisions{int64(0), int64(4), int64(8)}
	require.True(t, d.Known())
	require.Equal(t, 2, d.NPartitions())
}

func TestSortedDivisionLocations(t *testing.T) {
	idx := NewColumnI64("", []int64{0, 1, 2, 3, 4, 5, 6, 7})
	divs, offsets := sortedDivisionLocations(idx, 4)
	require.Equal(t, []int{0, 2, 4, 6, 8}, offsets)
	require.Equal(t, Divisions{int64(0), int64(2), int64(4), int64(6), int64(7)}, divs)
}

func TestSortedDivisionLocationsKeepsDuplicatesTogether(t *testing.T) {
	// A run of equal index values must not straddle a boundary.
	idx := NewColumnI64("", []int64{1, 1, 1, 1, 2, 3})
	divs, offsets := sortedDivisionLocations(idx, 3)
	for i := 1; i < len(offsets)-1; i++ {
		require.NotEqual(t, idx.At(offsets[i]-1), idx.At(offsets[i]))
	}
	require.NoError(t, divs.Validate())
}

func TestSubsetDivisions(t *testing.T) {
	d := Divisions{int64(0), int64(10), int64(20), int64(30), int64(40)}
	require.Equal(t, Divisions{int64(10), int64(20), int64(30)}, subsetDivisions(d, []int{1, 2}))
	// Non-contiguous subsets lose boundaries.
	require.Nil(t, subsetDivisions(d, []int{0, 2}))
	require.Nil(t, subsetDivisions(nil, []int{0}))
	// Out-of-range subsets too, rather than slicing past the end.
	require.Nil(t, subsetDivisions(d, []int{3, 4}))
	require.Nil(t, subsetDivisions(d, []int{-1, 0}))
}

func TestPartitionsExprRejectsBadIndices(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))

	_, err := NewPartitions(leaf, []int{9}).Divisions()
	require.ErrorContains(t, err, "out of range")
	_, err = NewPartitions(leaf, []int{9}).Meta()
	require.ErrorContains(t, err, "out of range")
}

func TestHeadDivisions(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))
	h := NewHead(leaf, 2)
	divs, err := h.Divisions()
	require.NoError(t, err)
	require.Equal(t, 1, divs.NPartitions())
	require.Equal(t, 1, h.NPartitions())
}

func TestFilterKeepsDivisions(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))
	leafDivs, err := leaf.Divisions()
	require.NoError(t, err)

	pred := NewGt(NewProjection(leaf, "a"), int64(3))
	f := NewFilter(leaf, pred)
	divs, err := f.Divisions()
	require.NoError(t, err)
	require.Equal(t, leafDivs, divs)
}

func TestApplyClearsDivisions(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))
	a := NewApply(leaf, "noop", func(f *Frame) (*Frame, error) { return f, nil })
	divs, err := a.Divisions()
	require.NoError(t, err)
	require.False(t, divs.Known())
	require.Equal(t, 4, a.NPartitions())
}
