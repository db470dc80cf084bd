package armada

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCombineSimilarUnifiesColumnReads(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := Simplify(NewAdd(NewProjection(leaf, "a"), NewProjection(leaf, "b")))

	c := CombineSimilar(e)
	b, ok := c.(*binop)
	require.True(t, ok)
	left, ok := b.left().(*projection)
	require.True(t, ok, "accesses should become selections over the shared read")
	right, ok := b.right().(*projection)
	require.True(t, ok)
	require.Equal(t, left.frame().Name(), right.frame().Name())

	ff, ok := left.frame().(*fromFrame)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, ff.columns())
}

func TestCombineSimilarKeepsFullRead(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := Simplify(NewFilter(leaf, NewGt(NewProjection(leaf, "a"), int64(3))))

	c := CombineSimilar(e)
	f, ok := c.(*filter)
	require.True(t, ok)
	ff, ok := f.frame().(*fromFrame)
	require.True(t, ok)
	require.Nil(t, ff.columns(), "a full read in the group pins the union to every column")

	pred, ok := f.predicate().(*binop)
	require.True(t, ok)
	p, ok := pred.left().(*projection)
	require.True(t, ok)
	require.Equal(t, ff.Name(), p.frame().Name())

	got := computeFrame(t, c)
	require.Equal(t, 5, got.NumRows())
}

func TestCombineSimilarLeavesIdenticalReadsAlone(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	x := NewProjection(leaf, "a")
	e := Simplify(NewSub(NewMul(x, int64(2)), x))

	c := CombineSimilar(e)
	require.Equal(t, e.Name(), c.Name())
}

func TestCombinedPlanComputesLikeSeparateReads(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))
	e := Simplify(NewAdd(NewProjection(leaf, "a"), NewProjection(leaf, "b")))

	want := computeColumn(t, e)
	got := computeColumn(t, CombineSimilar(e))
	require.Equal(t, want.Len(), got.Len())
	for i := 0; i < want.Len(); i++ {
		require.Equal(t, want.At(i), got.At(i))
	}
}
