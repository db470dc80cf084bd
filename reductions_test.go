package armada

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func rangeFrame(t *testing.T, n int) *Frame {
	t.Helper()
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64(i + 1)
	}
	f, err := NewFrame(NewColumnI64("v", vals))
	require.NoError(t, err)
	return f
}

func TestReductionTreeBoundsFanIn(t *testing.T) {
	leaf := NewFromFrame(rangeFrame(t, 40), WithNPartitions(20))
	e := NewSum(leaf, WithSplitEvery(4))

	g, keys, err := Materialize(e)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	combines := 0
	for k, task := range g.Tasks {
		if strings.Contains(k.Name, "-combine-") || k.Name == e.Name() {
			combines++
			require.LessOrEqual(t, len(task.Args), 4, "task %s", k)
		}
	}
	// 20 chunks fold as 20 -> 5 -> 2 -> 1.
	require.Equal(t, 5+2+1, combines)
	require.Equal(t, 20+20+5+2+1, g.Len())
}

func TestSplitEveryOneAggregatesFlat(t *testing.T) {
	leaf := NewFromFrame(rangeFrame(t, 40), WithNPartitions(20))
	e := NewSum(leaf, WithSplitEvery(1))

	g, _, err := Materialize(e)
	require.NoError(t, err)
	root := g.Tasks[Key{Name: e.Name(), Part: 0}]
	require.Len(t, root.Args, 20)
	require.Equal(t, 20+20+1, g.Len())
}

func TestColumnReductions(t *testing.T) {
	leaf := NewFromFrame(rangeFrame(t, 100), WithNPartitions(7))
	v := NewProjection(leaf, "v")

	cases := []struct {
		e    Expr
		want any
	}{
		{NewSum(v), int64(5050)},
		{NewMin(v), int64(1)},
		{NewMax(v), int64(100)},
		{NewCount(v), int64(100)},
		{NewMean(v), float64(50.5)},
	}
	for _, tc := range cases {
		vals := computeExpr(t, tc.e)
		require.Len(t, vals, 1)
		require.Equal(t, tc.want, vals[0], tc.e.String())
	}
}

func TestFrameReductionProducesSingleRow(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))

	got := computeFrame(t, NewSum(leaf))
	require.Equal(t, 1, got.NumRows())
	// String columns fall out of a sum.
	require.Equal(t, []string{"a", "b"}, got.Columns())
	a, err := got.Column("a")
	require.NoError(t, err)
	require.Equal(t, int64(36), a.At(0))
	b, err := got.Column("b")
	require.NoError(t, err)
	require.Equal(t, float64(360), b.At(0))
}

func TestFrameCountKeepsAllColumns(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))

	got := computeFrame(t, NewCount(leaf))
	require.Equal(t, []string{"a", "b", "c"}, got.Columns())
	c, err := got.Column("c")
	require.NoError(t, err)
	require.Equal(t, Int64, c.DType())
	require.Equal(t, int64(8), c.At(0))
}

func TestFrameMinIncludesStrings(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))

	got := computeFrame(t, NewMin(leaf))
	c, err := got.Column("c")
	require.NoError(t, err)
	require.Equal(t, "r", c.At(0))
	a, err := got.Column("a")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.At(0))
}

func TestUniqueColumn(t *testing.T) {
	f, err := NewFrame(NewColumnI64("v", []int64{3, 1, 3, 2, 1, 3, 2, 4}))
	require.NoError(t, err)
	leaf := NewFromFrame(f, WithNPartitions(3), WithSort(false))

	got := computeColumn(t, NewUnique(NewProjection(leaf, "v")))
	seen := make(map[any]bool)
	for i := 0; i < got.Len(); i++ {
		require.False(t, seen[got.At(i)], "duplicate %v", got.At(i))
		seen[got.At(i)] = true
	}
	require.Len(t, seen, 4)
}

func TestUniqueSplitOutPartitionsByHash(t *testing.T) {
	f, err := NewFrame(NewColumnI64("v", []int64{3, 1, 3, 2, 1, 3, 2, 4}))
	require.NoError(t, err)
	leaf := NewFromFrame(f, WithNPartitions(2), WithSort(false))
	e := NewUnique(NewProjection(leaf, "v"), WithSplitOut(3))
	require.Equal(t, 3, e.NPartitions())

	got := computeColumn(t, e)
	require.Equal(t, 4, got.Len())
	seen := make(map[any]bool)
	for i := 0; i < got.Len(); i++ {
		seen[got.At(i)] = true
	}
	require.Len(t, seen, 4)
}

func TestSplitOutRejectedForScalarResult(t *testing.T) {
	leaf := NewFromFrame(rangeFrame(t, 8), WithNPartitions(2))
	e := NewSum(NewProjection(leaf, "v"), WithSplitOut(2))
	_, err := e.Meta()
	require.Error(t, err)
}

func TestSumRejectsStringColumn(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := NewSum(NewProjection(leaf, "c"))
	_, err := e.Meta()
	var tme *TypeMismatchError
	require.ErrorAs(t, err, &tme)
}

func TestMeanOverFrameUsesNumericColumns(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))

	got := computeFrame(t, NewMean(leaf))
	require.Equal(t, []string{"a", "b"}, got.Columns())
	a, err := got.Column("a")
	require.NoError(t, err)
	require.Equal(t, float64(4.5), a.At(0))
	b, err := got.Column("b")
	require.NoError(t, err)
	require.Equal(t, float64(45), b.At(0))
}
