package armada

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DefaultSplitEvery is the combine-step fan-in used when a reduction does
// not set its own. A value of 0 or 1 disables intermediate combine levels
// and aggregates every chunk at once.
const DefaultSplitEvery = 8

// ReduceOption configures a reduction node.
type ReduceOption func(*reduceConfig)

type reduceConfig struct {
	splitEvery int
	splitOut   int
}

// WithSplitEvery bounds the fan-in of each combine task. 0 disables
// intermediate combining.
func WithSplitEvery(n int) ReduceOption {
	return func(c *reduceConfig) { c.splitEvery = n }
}

// WithSplitOut sets the number of output partitions. Values above 1 are only
// valid for reductions with column-shaped output, which hash-split their
// result.
func WithSplitOut(n int) ReduceOption {
	return func(c *reduceConfig) { c.splitOut = n }
}

// reduction aggregates all partitions of its input through a chunk, combine,
// aggregate tree.
type reduction struct {
	node
	kind string
}

func newReduction(kind string, frame Expr, opts ...ReduceOption) *reduction {
	cfg := reduceConfig{splitEvery: DefaultSplitEvery, splitOut: 1}
	for _, o := range opts {
		o(&cfg)
	}
	return rebuildReduction(kind, frame, cfg.splitEvery, cfg.splitOut)
}

func rebuildReduction(kind string, frame Expr, splitEvery, splitOut int) *reduction {
	return &reduction{
		node: newNode(kind, []string{"frame", "splitEvery", "splitOut"},
			[]any{frame, splitEvery, splitOut}),
		kind: kind,
	}
}

// NewSum sums every partition. Frames reduce per numeric column to a
// single-row frame; columns reduce to a scalar.
func NewSum(frame Expr, opts ...ReduceOption) Expr { return newReduction("sum", frame, opts...) }

// NewMin takes the minimum over every partition.
func NewMin(frame Expr, opts ...ReduceOption) Expr { return newReduction("min", frame, opts...) }

// NewMax takes the maximum over every partition.
func NewMax(frame Expr, opts ...ReduceOption) Expr { return newReduction("max", frame, opts...) }

// NewCount counts values across every partition.
func NewCount(frame Expr, opts ...ReduceOption) Expr { return newReduction("count", frame, opts...) }

// NewUnique returns the distinct values of a column expression.
func NewUnique(frame Expr, opts ...ReduceOption) Expr { return newReduction("unique", frame, opts...) }

// NewMean averages every partition. It lowers immediately to sum divided by
// count so the reduction tree machinery is shared.
func NewMean(frame Expr, opts ...ReduceOption) Expr {
	return NewDiv(NewSum(frame, opts...), NewCount(frame, opts...))
}

func (r *reduction) rebuild(operands []any) Expr {
	return rebuildReduction(r.kind, operands[0].(Expr), operands[1].(int), operands[2].(int))
}

func (r *reduction) frame() Expr     { return r.operands[0].(Expr) }
func (r *reduction) splitEvery() int { return r.operands[1].(int) }
func (r *reduction) splitOut() int   { return r.operands[2].(int) }

func (r *reduction) fusable() bool { return false }

func (r *reduction) Meta() (*Meta, error) {
	return r.memoMeta(func() (*Meta, error) {
		fm, err := r.frame().Meta()
		if err != nil {
			return nil, err
		}
		if r.splitOut() > 1 && r.kind != "unique" {
			return nil, fmt.Errorf("%s: split_out > 1 requires a hash-splittable result", r.kind)
		}
		switch fm.Kind {
		case KindFrame:
			if r.kind == "unique" {
				return nil, &TypeMismatchError{Op: r.kind, Left: "frame", Right: "column"}
			}
			partial, err := framePartial(r.kind, fm.Frame)
			if err != nil {
				return nil, err
			}
			return metaForFrame(partial), nil
		case KindColumn:
			switch r.kind {
			case "sum":
				if !fm.Dtype.IsNumeric() {
					return nil, &TypeMismatchError{Op: r.kind, Left: fm.Dtype.String(), Right: "numeric"}
				}
				return metaForScalar(fm.Dtype), nil
			case "count":
				return metaForScalar(Int64), nil
			case "min", "max":
				return metaForScalar(fm.Dtype), nil
			case "unique":
				return &Meta{Kind: KindColumn, Column: emptyColumn(fm.Column.Name(), fm.Dtype), Dtype: fm.Dtype}, nil
			}
		}
		return nil, &TypeMismatchError{Op: r.kind, Left: "scalar", Right: "frame or column"}
	})
}

func (r *reduction) Divisions() (Divisions, error) { return nil, nil }

func (r *reduction) NPartitions() int { return r.splitOut() }

// simplifyUp narrows the input when a column selection consumes the result:
// select(sum(df), cols) becomes sum(select(df, cols)).
func (r *reduction) simplifyUp(parent Expr) Expr {
	p, ok := parent.(*projection)
	if !ok {
		return nil
	}
	cols, ok := p.columns().([]string)
	if !ok {
		return nil
	}
	m, err := r.Meta()
	if err != nil || m.Kind != KindFrame || !subset(cols, m.Columns()) {
		return nil
	}
	return r.rebuild([]any{NewProjection(r.frame(), cols), r.splitEvery(), r.splitOut()})
}

// combineKind maps a reduction to the operation that merges its partials.
// Counting merges by summation; everything else is idempotent.
func combineKind(kind string) string {
	if kind == "count" {
		return "sum"
	}
	return kind
}

// framePartial reduces a frame to a single-row frame of per-column partials.
// Empty inputs produce a zero-row partial so extrema stay well defined.
func framePartial(kind string, f *Frame) (*Frame, error) {
	empty := f.NumRows() == 0
	var cols []*Column
	for _, c := range f.cols {
		switch kind {
		case "sum":
			if !c.dtype.IsNumeric() {
				continue
			}
			out := emptyColumn(c.name, c.dtype)
			if !empty {
				v, err := c.SumValue()
				if err != nil {
					return nil, err
				}
				out.appendValue(v)
			}
			cols = append(cols, out)
		case "count":
			out := emptyColumn(c.name, Int64)
			if !empty {
				out.i64 = append(out.i64, c.CountValue())
			}
			cols = append(cols, out)
		case "min", "max":
			out := emptyColumn(c.name, c.dtype)
			if !empty {
				if kind == "min" {
					out.appendValue(c.MinValue())
				} else {
					out.appendValue(c.MaxValue())
				}
			}
			cols = append(cols, out)
		default:
			return nil, fmt.Errorf("%s: unsupported over frames", kind)
		}
	}
	rows := 1
	if empty {
		rows = 0
	}
	idx := make([]int64, rows)
	fr := &Frame{indexName: f.indexName, index: NewColumnI64(f.index.name, idx), cols: cols}
	return fr, nil
}

// columnPartial reduces one column to its partial value.
func columnPartial(kind string, c *Column) (any, error) {
	switch kind {
	case "sum":
		return c.SumValue()
	case "count":
		return c.CountValue(), nil
	case "min":
		return c.MinValue(), nil
	case "max":
		return c.MaxValue(), nil
	case "unique":
		return c.Unique(), nil
	}
	return nil, fmt.Errorf("unknown reduction %q", kind)
}

// mergePartials combines a batch of partial values with the given merge
// operation. Scalar nil partials (extrema of empty partitions) are skipped.
func mergePartials(kind string, parts []any) (any, error) {
	switch parts[0].(type) {
	case *Frame:
		frames := make([]*Frame, len(parts))
		for i, p := range parts {
			f, ok := p.(*Frame)
			if !ok {
				return nil, fmt.Errorf("%s: mixed partial types", kind)
			}
			frames[i] = f
		}
		cat, err := ConcatFrames(frames)
		if err != nil {
			return nil, err
		}
		return framePartial(kind, cat)
	case *Column:
		columns := make([]*Column, len(parts))
		for i, p := range parts {
			c, ok := p.(*Column)
			if !ok {
				return nil, fmt.Errorf("%s: mixed partial types", kind)
			}
			columns[i] = c
		}
		cat, err := ConcatColumns(columns)
		if err != nil {
			return nil, err
		}
		return columnPartial(kind, cat)
	default:
		var acc any
		for _, p := range parts {
			if p == nil {
				continue
			}
			if acc == nil {
				acc = p
				continue
			}
			switch kind {
			case "sum":
				v, err := arithScalars("+", acc, p)
				if err != nil {
					return nil, err
				}
				acc = v
			case "min", "max":
				c, err := compareValues(p, acc)
				if err != nil {
					return nil, err
				}
				if (kind == "min" && c < 0) || (kind == "max" && c > 0) {
					acc = p
				}
			default:
				return nil, fmt.Errorf("unknown reduction %q", kind)
			}
		}
		return acc, nil
	}
}

func (r *reduction) chunkFn() taskFunc {
	kind := r.kind
	return func(args []any) (any, error) {
		switch v := args[0].(type) {
		case *Frame:
			return framePartial(kind, v)
		case *Column:
			return columnPartial(kind, v)
		}
		return nil, fmt.Errorf("%s: expected frame or column, got %T", kind, args[0])
	}
}

func (r *reduction) mergeFn() taskFunc {
	kind := combineKind(r.kind)
	return func(args []any) (any, error) { return mergePartials(kind, args) }
}

func (r *reduction) aggregateFn(part int) taskFunc {
	kind := combineKind(r.kind)
	splitOut := r.splitOut()
	return func(args []any) (any, error) {
		out, err := mergePartials(kind, args)
		if err != nil {
			return nil, err
		}
		if splitOut <= 1 {
			return out, nil
		}
		col, ok := out.(*Column)
		if !ok {
			return nil, fmt.Errorf("%s: split_out requires a column result", kind)
		}
		return hashSplit(col, part, splitOut), nil
	}
}

// hashSplit keeps the values assigned to output partition part by hashing.
func hashSplit(c *Column, part, splitOut int) *Column {
	out := emptyColumn(c.name, c.dtype)
	for i := 0; i < c.Len(); i++ {
		v := c.At(i)
		if int(xxhash.Sum64String(fmt.Sprintf("%v", v))%uint64(splitOut)) == part {
			out.appendValue(v)
		}
	}
	return out
}

// layer expands the reduction into a balanced tree: one chunk task per
// input partition, combine levels batched by splitEvery, and splitOut final
// aggregate tasks.
func (r *reduction) layer(g *Graph) error {
	frame := r.frame()
	name := r.Name()
	splitEvery := r.splitEvery()

	keys := make([]Key, frame.NPartitions())
	chunkName := name + "-chunk"
	for i := range keys {
		keys[i] = Key{Name: chunkName, Part: i}
		g.AddTask(keys[i], Task{
			Fn:   r.chunkFn(),
			Args: []any{Key{Name: frame.Name(), Part: i}},
		})
	}

	level := 0
	for splitEvery > 1 && len(keys) > splitEvery {
		levelName := fmt.Sprintf("%s-combine-%d", name, level)
		var next []Key
		for start := 0; start < len(keys); start += splitEvery {
			end := start + splitEvery
			if end > len(keys) {
				end = len(keys)
			}
			args := make([]any, end-start)
			for i, k := range keys[start:end] {
				args[i] = k
			}
			out := Key{Name: levelName, Part: len(next)}
			g.AddTask(out, Task{Fn: r.mergeFn(), Args: args})
			next = append(next, out)
		}
		keys = next
		level++
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	for part := 0; part < r.splitOut(); part++ {
		g.AddTask(Key{Name: name, Part: part}, Task{Fn: r.aggregateFn(part), Args: args})
	}
	return nil
}
