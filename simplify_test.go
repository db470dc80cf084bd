package armada

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func computeExpr(t *testing.T, e Expr) []any {
	t.Helper()
	g, keys, err := Materialize(e)
	require.NoError(t, err)
	vals, err := Execute(context.Background(), g, keys)
	require.NoError(t, err)
	return vals
}

func computeFrame(t *testing.T, e Expr) *Frame {
	t.Helper()
	vals := computeExpr(t, e)
	frames := make([]*Frame, len(vals))
	for i, v := range vals {
		frames[i] = v.(*Frame)
	}
	out, err := ConcatFrames(frames)
	require.NoError(t, err)
	return out
}

func computeColumn(t *testing.T, e Expr) *Column {
	t.Helper()
	vals := computeExpr(t, e)
	columns := make([]*Column, len(vals))
	for i, v := range vals {
		columns[i] = v.(*Column)
	}
	out, err := ConcatColumns(columns)
	require.NoError(t, err)
	return out
}

func TestSimplifyReachesFixedPoint(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := NewProjection(NewFilter(leaf, NewGt(NewProjection(leaf, "a"), int64(3))), []string{"b"})

	s := Simplify(e)
	require.Equal(t, s.Name(), Simplify(s).Name())
}

func TestNestedProjectionsCollapse(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := NewProjection(NewProjection(leaf, []string{"a", "b"}), []string{"b"})

	s := Simplify(e)
	ff, ok := s.(*fromFrame)
	require.True(t, ok, "expected the selection to be absorbed by the leaf, got %s", s)
	require.Equal(t, []string{"b"}, ff.columns())
}

func TestSeriesProjectionAbsorbed(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	s := Simplify(NewProjection(leaf, "a"))

	ff, ok := s.(*fromFrame)
	require.True(t, ok)
	require.Equal(t, "a", ff.columns())
	m, err := s.Meta()
	require.NoError(t, err)
	require.Equal(t, KindColumn, m.Kind)
}

func TestProjectionPushesThroughBinop(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	num := NewProjection(leaf, []string{"a", "b"})
	e := NewProjection(NewAdd(num, int64(1)), []string{"a"})

	s := Simplify(e)
	b, ok := s.(*binop)
	require.True(t, ok, "expected the selection below the arithmetic, got %s", s)
	ff, ok := b.left().(*fromFrame)
	require.True(t, ok)
	require.Equal(t, []string{"a"}, ff.columns())
}

func TestProjectionSwapsBelowFilter(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	pred := NewGt(NewProjection(leaf, "a"), int64(4))
	e := NewProjection(NewFilter(leaf, pred), []string{"b"})

	s := Simplify(e)
	f, ok := s.(*filter)
	require.True(t, ok, "the selection should end up below the filter, got %s", s)
	ff, ok := f.frame().(*fromFrame)
	require.True(t, ok)
	// The filtered read narrows to the selected column; the predicate reads
	// its own column through a separate series leaf.
	require.Equal(t, []string{"b"}, ff.columns())
	predOp, ok := f.predicate().(*binop)
	require.True(t, ok)
	pl, ok := predOp.left().(*fromFrame)
	require.True(t, ok)
	require.Equal(t, "a", pl.columns())

	got := computeFrame(t, s)
	require.Equal(t, []string{"b"}, got.Columns())
	require.Equal(t, 4, got.NumRows())
	b, err := got.Column("b")
	require.NoError(t, err)
	require.Equal(t, float64(50), b.At(0))
}

func TestAddSelfBecomesDouble(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	x := NewProjection(leaf, "a")

	s := Simplify(NewAdd(x, x))
	b, ok := s.(*binop)
	require.True(t, ok)
	require.Equal(t, "mul", b.opName())

	got := computeColumn(t, s)
	require.Equal(t, int64(2), got.At(0))
	require.Equal(t, int64(16), got.At(7))
}

func TestMulFoldsScalarFactors(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	x := NewProjection(leaf, "a")

	s := Simplify(NewMul(int64(3), NewMul(int64(2), x)))
	b, ok := s.(*binop)
	require.True(t, ok)
	require.Equal(t, "mul", b.opName())
	scalar, _, ok := binopScalarSide(b)
	require.True(t, ok)
	require.Equal(t, int64(6), scalar)
}

func TestHeadDistributesThroughElemwise(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(4))
	e := NewHead(NewAdd(NewProjection(leaf, "a"), int64(1)), 3)

	s := Simplify(e)
	require.Equal(t, 1, s.NPartitions())
	_, ok := s.(*head)
	require.False(t, ok, "head should have moved into the operands, got %s", s)

	got := computeColumn(t, s)
	require.Equal(t, 2, got.Len())
	require.Equal(t, int64(2), got.At(0))
}

func TestNestedHeadsKeepTighterBound(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(1))
	s := Simplify(NewHead(NewHead(leaf, 5), 3))
	h, ok := s.(*head)
	require.True(t, ok)
	require.Equal(t, 3, h.n())
}

func TestProjectionDropsUnusedAssign(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := NewProjection(NewAssign(leaf, "d", int64(0)), []string{"a"})

	s := Simplify(e)
	ff, ok := s.(*fromFrame)
	require.True(t, ok)
	require.Equal(t, []string{"a"}, ff.columns())
}

func TestProjectionPushesBelowReduction(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(2))
	e := NewProjection(NewSum(leaf), []string{"a"})

	s := Simplify(e)
	r, ok := s.(*reduction)
	require.True(t, ok, "expected the selection below the reduction, got %s", s)
	ff, ok := r.frame().(*fromFrame)
	require.True(t, ok)
	require.Equal(t, []string{"a"}, ff.columns())

	got := computeFrame(t, s)
	require.Equal(t, 1, got.NumRows())
	a, err := got.Column("a")
	require.NoError(t, err)
	require.Equal(t, int64(36), a.At(0))
}

func TestOptimizeIsIdempotent(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))
	pred := NewLe(NewProjection(leaf, "b"), float64(60))
	e := NewProjection(NewFilter(leaf, pred), []string{"a", "b"})

	once := Optimize(e)
	require.Equal(t, once.Name(), Optimize(once).Name())

	chain := NewMul(NewAdd(NewProjection(leaf, "a"), NewProjection(leaf, "b")), int64(3))
	once = Optimize(chain)
	require.Equal(t, once.Name(), Optimize(once).Name())
}

func TestOptimizedPushdownMatchesUnoptimized(t *testing.T) {
	leaf := NewFromFrame(testFrame(t), WithNPartitions(3))
	pred := NewLe(NewProjection(leaf, "b"), float64(60))
	e := NewProjection(NewFilter(leaf, pred), []string{"a", "b"})

	plain := computeFrame(t, e)
	opt := computeFrame(t, Optimize(e))

	require.Equal(t, plain.Columns(), opt.Columns())
	require.Equal(t, plain.NumRows(), opt.NumRows())
	for _, name := range plain.Columns() {
		pc, err := plain.Column(name)
		require.NoError(t, err)
		oc, err := opt.Column(name)
		require.NoError(t, err)
		require.Equal(t, pc.Len(), oc.Len())
		for i := 0; i < pc.Len(); i++ {
			require.Equal(t, pc.At(i), oc.At(i))
		}
	}
}
