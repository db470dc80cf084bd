package armada

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame(
		NewColumnI64("a", []int64{1, 2, 3, 4, 5, 6, 7, 8}),
		NewColumnF64("b", []float64{10, 20, 30, 40, 50, 60, 70, 80}),
		NewColumnStr("c", []string{"r", "s", "t", "u", "v", "w", "x", "y"}),
	)
	require.NoError(t, err)
	return f
}

func TestNewFrameLengthMismatch(t *testing.T) {
	_, err := NewFrame(
		NewColumnI64("a", []int64{1, 2}),
		NewColumnF64("b", []float64{1}),
	)
	require.Error(t, err)
	require.IsType(t, &LengthMismatchError{}, err)
}

func TestFrameSelectAndColumn(t *testing.T) {
	f := testFrame(t)

	sel, err := f.Select([]string{"c", "a"})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, sel.Columns())

	_, err = f.Column("nope")
	var notFound *ColumnNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nope", notFound.Column)
}

func TestFrameAssignReplaces(t *testing.T) {
	f := testFrame(t)

	out, err := f.Assign(NewColumnI64("a", []int64{9, 9, 9, 9, 9, 9, 9, 9}))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, out.Columns())
	col, err := out.Column("a")
	require.NoError(t, err)
	require.Equal(t, int64(9), col.At(0))

	out, err = f.Assign(NewColumnBool("d", make([]bool, 8)))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, out.Columns())
}

func TestFrameFilterMask(t *testing.T) {
	f := testFrame(t)
	a, err := f.Column("a")
	require.NoError(t, err)
	mask, err := columnCompareScalar(">", a, int64(6), true)
	require.NoError(t, err)

	out, err := f.FilterMask(mask)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	c, err := out.Column("c")
	require.NoError(t, err)
	require.Equal(t, "x", c.At(0))
	require.Equal(t, "y", c.At(1))
}

func TestFrameSortByIndex(t *testing.T) {
	f, err := NewFrame(
		NewColumnI64("k", []int64{3, 1, 2}),
		NewColumnStr("v", []string{"c", "a", "b"}),
	)
	require.NoError(t, err)
	f, err = f.WithIndex("k")
	require.NoError(t, err)

	sorted := f.SortByIndex()
	require.Equal(t, int64(1), sorted.Index().At(0))
	require.Equal(t, int64(3), sorted.Index().At(2))
	v, err := sorted.Column("v")
	require.NoError(t, err)
	require.Equal(t, "a", v.At(0))
}

func TestFrameCastColumns(t *testing.T) {
	f := testFrame(t)
	out, err := f.CastColumns(map[string]DType{"a": Float64})
	require.NoError(t, err)
	a, err := out.Column("a")
	require.NoError(t, err)
	require.Equal(t, Float64, a.DType())
	require.Equal(t, float64(1), a.At(0))

	_, err = f.CastColumns(map[string]DType{"missing": Int64})
	require.Error(t, err)
}

func TestConcatFrames(t *testing.T) {
	f := testFrame(t)
	out, err := ConcatFrames([]*Frame{f.Slice(0, 4), f.Slice(4, 8)})
	require.NoError(t, err)
	require.Equal(t, 8, out.NumRows())
	a, err := out.Column("a")
	require.NoError(t, err)
	require.Equal(t, int64(5), a.At(4))
}

func TestColumnArithmetic(t *testing.T) {
	a := NewColumnI64("a", []int64{1, 2, 3})
	b := NewColumnI64("b", []int64{10, 20, 30})

	sum, err := columnArith("+", a, b)
	require.NoError(t, err)
	require.Equal(t, Int64, sum.DType())
	require.Equal(t, int64(33), sum.At(2))

	// Division always widens to float.
	quot, err := columnArith("/", b, a)
	require.NoError(t, err)
	require.Equal(t, Float64, quot.DType())
	require.Equal(t, float64(10), quot.At(1))

	scaled, err := columnArithScalar("*", a, 2.5, true)
	require.NoError(t, err)
	require.Equal(t, Float64, scaled.DType())
	require.Equal(t, 7.5, scaled.At(2))

	_, err = columnArith("+", a, NewColumnStr("s", []string{"x", "y", "z"}))
	require.Error(t, err)
}

func TestFrameArithAlignsOnLeftColumns(t *testing.T) {
	sums, err := NewFrame(
		NewColumnI64("a", []int64{36}),
		NewColumnF64("b", []float64{360}),
	)
	require.NoError(t, err)
	counts, err := NewFrame(
		NewColumnI64("a", []int64{8}),
		NewColumnI64("b", []int64{8}),
		NewColumnI64("c", []int64{8}),
	)
	require.NoError(t, err)

	// The right side may carry extra columns; the left side drives.
	got, err := frameArithFrame("/", sums, counts)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.Columns())
	a, err := got.Column("a")
	require.NoError(t, err)
	require.Equal(t, float64(4.5), a.At(0))

	_, err = frameArithFrame("/", counts, sums)
	var notFound *ColumnNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "c", notFound.Column)
}

func TestColumnComparisons(t *testing.T) {
	a := NewColumnI64("a", []int64{1, 2, 3})
	mask, err := columnCompareScalar("<", a, int64(3), true)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, false}, mask.b)

	// Literal on the left compares in the stated direction.
	mask, err = columnCompareScalar("<", a, int64(2), false)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, true}, mask.b)
}

func TestColumnUnique(t *testing.T) {
	c := NewColumnStr("c", []string{"a", "b", "a", "c", "b"})
	u := c.Unique()
	require.Equal(t, []string{"a", "b", "c"}, u.str)
}

func TestColumnAggregates(t *testing.T) {
	c := NewColumnF64("c", []float64{4, 1, 3})
	sum, err := c.SumValue()
	require.NoError(t, err)
	require.Equal(t, float64(8), sum)
	require.Equal(t, float64(1), c.MinValue())
	require.Equal(t, float64(4), c.MaxValue())
	require.Equal(t, int64(3), c.CountValue())

	empty := emptyColumn("e", Int64)
	require.Nil(t, empty.MinValue())
}
