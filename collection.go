package armada

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// collection is the shared state of the lazy wrappers. Construction
// evaluates metadata and divisions eagerly, so schema errors surface where
// the user builds the tree, not at compute time.
type collection struct {
	expr Expr
	meta *Meta
	divs Divisions
}

func makeCollection(e Expr) (collection, error) {
	m, err := e.Meta()
	if err != nil {
		return collection{}, err
	}
	d, err := e.Divisions()
	if err != nil {
		return collection{}, err
	}
	return collection{expr: e, meta: m, divs: d}, nil
}

// Expr returns the underlying expression.
func (c *collection) Expr() Expr { return c.expr }

// Divisions returns the known partition boundaries, nil when unknown.
func (c *collection) Divisions() Divisions { return c.divs }

// NPartitions returns the partition count.
func (c *collection) NPartitions() int { return c.expr.NPartitions() }

// Explain renders the expression tree, before and after optimization.
func (c *collection) Explain() string {
	var b strings.Builder
	b.WriteString("logical:\n")
	writePlan(&b, c.expr, 1)
	b.WriteString("optimized:\n")
	writePlan(&b, Optimize(c.expr), 1)
	return b.String()
}

func writePlan(b *strings.Builder, e Expr, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(e.opName())
	var scalars []string
	for i, o := range e.Operands() {
		if _, ok := o.(Expr); ok {
			continue
		}
		label := ""
		if params := e.Parameters(); i < len(params) {
			label = params[i] + "="
		}
		scalars = append(scalars, fmt.Sprintf("%s%v", label, o))
	}
	if len(scalars) > 0 {
		fmt.Fprintf(b, "(%s)", strings.Join(scalars, ", "))
	}
	b.WriteString("\n")
	for _, dep := range e.Dependencies() {
		writePlan(b, dep, depth+1)
	}
}

func (c *collection) computeValues(ctx context.Context) ([]any, error) {
	e := Optimize(c.expr)
	g, keys, err := Materialize(e)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, g, keys)
}

// DataFrame is a lazy partitioned table.
type DataFrame struct {
	collection
}

// Series is a lazy partitioned column.
type Series struct {
	collection
}

// Scalar is a lazy single value.
type Scalar struct {
	collection
}

func newDataFrame(e Expr) (*DataFrame, error) {
	c, err := makeCollection(e)
	if err != nil {
		return nil, err
	}
	if c.meta.Kind != KindFrame {
		return nil, &TypeMismatchError{Op: "dataframe", Left: c.meta.String(), Right: "frame"}
	}
	return &DataFrame{c}, nil
}

func newSeries(e Expr) (*Series, error) {
	c, err := makeCollection(e)
	if err != nil {
		return nil, err
	}
	if c.meta.Kind != KindColumn {
		return nil, &TypeMismatchError{Op: "series", Left: c.meta.String(), Right: "column"}
	}
	return &Series{c}, nil
}

func newScalar(e Expr) (*Scalar, error) {
	c, err := makeCollection(e)
	if err != nil {
		return nil, err
	}
	if c.meta.Kind != KindScalar {
		return nil, &TypeMismatchError{Op: "scalar", Left: c.meta.String(), Right: "scalar"}
	}
	return &Scalar{c}, nil
}

// FromFrame wraps an in-memory frame as a lazy DataFrame.
func FromFrame(f *Frame, opts ...FromFrameOption) (*DataFrame, error) {
	return newDataFrame(NewFromFrame(f, opts...))
}

// ReadParquet opens a parquet file or directory as a lazy DataFrame, one
// partition per row group.
func ReadParquet(path string, opts ...ReadParquetOption) (*DataFrame, error) {
	return newDataFrame(NewReadParquet(path, opts...))
}

// FromArrowFile opens an Arrow IPC file as a lazy DataFrame, one partition
// per record batch.
func FromArrowFile(path string) (*DataFrame, error) {
	return newDataFrame(NewFromArrowFile(path))
}

// Columns returns the column names of the schema.
func (df *DataFrame) Columns() []string { return df.meta.Columns() }

// Dtypes returns the dtype of each column.
func (df *DataFrame) Dtypes() map[string]DType { return df.meta.Frame.Dtypes() }

// Col selects a single column as a Series.
func (df *DataFrame) Col(name string) (*Series, error) {
	return newSeries(NewProjection(df.expr, name))
}

// Select keeps the named columns, in order.
func (df *DataFrame) Select(columns ...string) (*DataFrame, error) {
	return newDataFrame(NewProjection(df.expr, columns))
}

// Filter keeps the rows where the boolean predicate series is true.
func (df *DataFrame) Filter(predicate *Series) (*DataFrame, error) {
	return newDataFrame(NewFilter(df.expr, predicate.expr))
}

// Assign adds or replaces a column. value is a Series or a scalar broadcast
// to every row.
func (df *DataFrame) Assign(name string, value any) (*DataFrame, error) {
	if s, ok := value.(*Series); ok {
		value = s.expr
	}
	return newDataFrame(NewAssign(df.expr, name, value))
}

// AsType converts the listed columns to new dtypes.
func (df *DataFrame) AsType(dtypes map[string]DType) (*DataFrame, error) {
	return newDataFrame(NewAsType(df.expr, dtypes))
}

// Apply maps fn over every partition. label identifies the function in node
// names; distinct functions need distinct labels.
func (df *DataFrame) Apply(label string, fn func(*Frame) (*Frame, error)) (*DataFrame, error) {
	return newDataFrame(NewApply(df.expr, label, fn))
}

// Head keeps the first n rows of the first partition.
func (df *DataFrame) Head(n int) (*DataFrame, error) {
	return newDataFrame(NewHead(df.expr, n))
}

// Partitions keeps the given partition indices, renumbered from zero.
func (df *DataFrame) Partitions(indices []int) (*DataFrame, error) {
	return newDataFrame(NewPartitions(df.expr, indices))
}

// Repartition coalesces down to npartitions by concatenating neighbors.
func (df *DataFrame) Repartition(npartitions int) (*DataFrame, error) {
	return newDataFrame(NewRepartition(df.expr, npartitions))
}

func (df *DataFrame) arith(op func(left, right any) Expr, other any) (*DataFrame, error) {
	if o, ok := other.(*DataFrame); ok {
		other = o.expr
	}
	return newDataFrame(op(df.expr, other))
}

// Add builds df + other, where other is a DataFrame or a scalar.
func (df *DataFrame) Add(other any) (*DataFrame, error) { return df.arith(NewAdd, other) }

// Sub builds df - other.
func (df *DataFrame) Sub(other any) (*DataFrame, error) { return df.arith(NewSub, other) }

// Mul builds df * other.
func (df *DataFrame) Mul(other any) (*DataFrame, error) { return df.arith(NewMul, other) }

// Div builds df / other.
func (df *DataFrame) Div(other any) (*DataFrame, error) { return df.arith(NewDiv, other) }

// Sum reduces to a single-row frame of per-column sums over numeric
// columns.
func (df *DataFrame) Sum(opts ...ReduceOption) (*DataFrame, error) {
	return newDataFrame(NewSum(df.expr, opts...))
}

// Min reduces to a single-row frame of per-column minima.
func (df *DataFrame) Min(opts ...ReduceOption) (*DataFrame, error) {
	return newDataFrame(NewMin(df.expr, opts...))
}

// Max reduces to a single-row frame of per-column maxima.
func (df *DataFrame) Max(opts ...ReduceOption) (*DataFrame, error) {
	return newDataFrame(NewMax(df.expr, opts...))
}

// Count reduces to a single-row frame of per-column counts.
func (df *DataFrame) Count(opts ...ReduceOption) (*DataFrame, error) {
	return newDataFrame(NewCount(df.expr, opts...))
}

// Mean reduces to a single-row frame of per-column means over numeric
// columns.
func (df *DataFrame) Mean(opts ...ReduceOption) (*DataFrame, error) {
	return newDataFrame(NewMean(df.expr, opts...))
}

// Optimize returns the frame with its expression rewritten to the optimized
// form, for inspection.
func (df *DataFrame) Optimize() (*DataFrame, error) {
	return newDataFrame(Optimize(df.expr))
}

// Compute optimizes, materializes and executes the graph, concatenating the
// partition results into one frame.
func (df *DataFrame) Compute(ctx context.Context) (*Frame, error) {
	vals, err := df.computeValues(ctx)
	if err != nil {
		return nil, err
	}
	frames := make([]*Frame, len(vals))
	for i, v := range vals {
		f, ok := v.(*Frame)
		if !ok {
			return nil, fmt.Errorf("compute: partition %d is %T, want frame", i, v)
		}
		frames[i] = f
	}
	return ConcatFrames(frames)
}

// Persist computes the frame and wraps the results as a new leaf, so later
// work reuses them instead of recomputing.
func (df *DataFrame) Persist(ctx context.Context) (*DataFrame, error) {
	vals, err := df.computeValues(ctx)
	if err != nil {
		return nil, err
	}
	return newDataFrame(persistExpr(vals, df.meta, df.divs))
}

// persistSeq distinguishes persisted leaves; their data has no content
// token of its own.
var persistSeq atomic.Uint64

// persistExpr stores computed partition values in a fresh graph leaf.
func persistExpr(vals []any, meta *Meta, divs Divisions) Expr {
	name := fmt.Sprintf("persist-%d-%016x", persistSeq.Add(1),
		xxhash.Sum64String(fmt.Sprintf("%s-%d", meta, len(vals))))
	g := NewGraph()
	for i, v := range vals {
		g.AddTask(Key{Name: name, Part: i}, Task{Args: []any{v}})
	}
	return NewFromGraph(g, meta, divs, len(vals), name)
}

// Name exposes the Series column name.
func (s *Series) Name() string { return s.meta.Column.Name() }

// DType returns the element dtype.
func (s *Series) DType() DType { return s.meta.Dtype }

func (s *Series) arith(op func(left, right any) Expr, other any) (*Series, error) {
	if o, ok := other.(*Series); ok {
		other = o.expr
	}
	return newSeries(op(s.expr, other))
}

// Add builds s + other, where other is a Series or a scalar.
func (s *Series) Add(other any) (*Series, error) { return s.arith(NewAdd, other) }

// Sub builds s - other.
func (s *Series) Sub(other any) (*Series, error) { return s.arith(NewSub, other) }

// Mul builds s * other.
func (s *Series) Mul(other any) (*Series, error) { return s.arith(NewMul, other) }

// Div builds s / other.
func (s *Series) Div(other any) (*Series, error) { return s.arith(NewDiv, other) }

// Lt builds s < other.
func (s *Series) Lt(other any) (*Series, error) { return s.arith(NewLt, other) }

// Le builds s <= other.
func (s *Series) Le(other any) (*Series, error) { return s.arith(NewLe, other) }

// Gt builds s > other.
func (s *Series) Gt(other any) (*Series, error) { return s.arith(NewGt, other) }

// Ge builds s >= other.
func (s *Series) Ge(other any) (*Series, error) { return s.arith(NewGe, other) }

// Eq builds s == other.
func (s *Series) Eq(other any) (*Series, error) { return s.arith(NewEq, other) }

// Ne builds s != other.
func (s *Series) Ne(other any) (*Series, error) { return s.arith(NewNe, other) }

// AsType converts the series dtype.
func (s *Series) AsType(dtype DType) (*Series, error) {
	return newSeries(NewAsType(s.expr, map[string]DType{s.Name(): dtype}))
}

// Head keeps the first n values of the first partition.
func (s *Series) Head(n int) (*Series, error) {
	return newSeries(NewHead(s.expr, n))
}

// Sum reduces the series to its total.
func (s *Series) Sum(opts ...ReduceOption) (*Scalar, error) {
	return newScalar(NewSum(s.expr, opts...))
}

// Min reduces the series to its smallest value.
func (s *Series) Min(opts ...ReduceOption) (*Scalar, error) {
	return newScalar(NewMin(s.expr, opts...))
}

// Max reduces the series to its largest value.
func (s *Series) Max(opts ...ReduceOption) (*Scalar, error) {
	return newScalar(NewMax(s.expr, opts...))
}

// Count reduces the series to its length.
func (s *Series) Count(opts ...ReduceOption) (*Scalar, error) {
	return newScalar(NewCount(s.expr, opts...))
}

// Mean reduces the series to its average.
func (s *Series) Mean(opts ...ReduceOption) (*Scalar, error) {
	return newScalar(NewMean(s.expr, opts...))
}

// Unique reduces to the distinct values, optionally hash-split across
// split_out partitions.
func (s *Series) Unique(opts ...ReduceOption) (*Series, error) {
	return newSeries(NewUnique(s.expr, opts...))
}

// Optimize returns the series with its expression rewritten to the
// optimized form, for inspection.
func (s *Series) Optimize() (*Series, error) {
	return newSeries(Optimize(s.expr))
}

// Compute optimizes, materializes and executes the graph, concatenating the
// partition results into one column.
func (s *Series) Compute(ctx context.Context) (*Column, error) {
	vals, err := s.computeValues(ctx)
	if err != nil {
		return nil, err
	}
	columns := make([]*Column, len(vals))
	for i, v := range vals {
		c, ok := v.(*Column)
		if !ok {
			return nil, fmt.Errorf("compute: partition %d is %T, want column", i, v)
		}
		columns[i] = c
	}
	return ConcatColumns(columns)
}

// Persist computes the series and wraps the results as a new leaf.
func (s *Series) Persist(ctx context.Context) (*Series, error) {
	vals, err := s.computeValues(ctx)
	if err != nil {
		return nil, err
	}
	return newSeries(persistExpr(vals, s.meta, s.divs))
}

// DType returns the scalar dtype.
func (sc *Scalar) DType() DType { return sc.meta.Dtype }

// Compute executes the graph and returns the scalar value.
func (sc *Scalar) Compute(ctx context.Context) (any, error) {
	vals, err := sc.computeValues(ctx)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}
