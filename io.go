package armada

import "fmt"

// Predicate is a pushed-down row filter in normalized (column, operator,
// literal) form. Op is one of < <= > >= == !=.
type Predicate struct {
	Column string
	Op     string
	Value  any
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
}

// flip mirrors the predicate for a literal that appeared on the left-hand
// side of the comparison.
func (p Predicate) flip() Predicate {
	switch p.Op {
	case "<":
		p.Op = ">"
	case "<=":
		p.Op = ">="
	case ">":
		p.Op = "<"
	case ">=":
		p.Op = "<="
	}
	return p
}

// canSatisfy reports whether any value in [min, max] could pass the
// predicate. Unknown statistics (nil bounds) always pass.
func (p Predicate) canSatisfy(min, max any) bool {
	if min == nil || max == nil {
		return true
	}
	cmin, err1 := compareValues(min, p.Value)
	cmax, err2 := compareValues(max, p.Value)
	if err1 != nil || err2 != nil {
		return true
	}
	switch p.Op {
	case "<":
		return cmin < 0
	case "<=":
		return cmin <= 0
	case ">":
		return cmax > 0
	case ">=":
		return cmax >= 0
	case "==":
		return cmin <= 0 && cmax >= 0
	case "!=":
		return !(cmin == 0 && cmax == 0)
	}
	return true
}

// applyPredicates drops the rows of a frame that fail any predicate.
func applyPredicates(f *Frame, preds []Predicate) (*Frame, error) {
	for _, p := range preds {
		col, err := f.Column(p.Column)
		if err != nil {
			return nil, err
		}
		mask, err := columnCompareScalar(p.Op, col, p.Value, true)
		if err != nil {
			return nil, err
		}
		f, err = f.FilterMask(mask)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// selectOutput applies an absorbed column selection to a partition frame.
// A string selector produces a bare column.
func selectOutput(f *Frame, columns any) (any, error) {
	switch c := columns.(type) {
	case nil:
		return f, nil
	case string:
		return f.Column(c)
	case []string:
		return f.Select(c)
	}
	return nil, fmt.Errorf("bad column selector %T", columns)
}

// allPartitions expands a nil subset into [0, n).
func allPartitions(subset []int, n int) []int {
	if subset != nil {
		return subset
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// contiguousAscending reports whether the indices form i, i+1, ..., j.
func contiguousAscending(indices []int) bool {
	for i := 1; i < len(indices); i++ {
		if indices[i] != indices[i-1]+1 {
			return false
		}
	}
	return len(indices) > 0
}

// subsetDivisions slices known divisions down to a partition subset.
// Non-contiguous or out-of-range subsets lose their boundaries.
func subsetDivisions(divs Divisions, indices []int) Divisions {
	if !divs.Known() || !contiguousAscending(indices) {
		return nil
	}
	first, last := indices[0], indices[len(indices)-1]
	if first < 0 || last+2 > len(divs) {
		return nil
	}
	return divs[first : last+2]
}

// checkPartitionIndices validates a user-supplied partition subset against
// the available partition count.
func checkPartitionIndices(indices []int, n int) error {
	if len(indices) == 0 {
		return fmt.Errorf("partitions: empty index list")
	}
	for _, ix := range indices {
		if ix < 0 || ix >= n {
			return fmt.Errorf("partitions: index %d out of range (%d partitions)", ix, n)
		}
	}
	return nil
}

// FromFrameOption configures NewFromFrame.
type FromFrameOption func(*fromFrameConfig)

type fromFrameConfig struct {
	npartitions int
	sort        bool
}

// WithNPartitions splits the source frame into n partitions.
func WithNPartitions(n int) FromFrameOption {
	return func(c *fromFrameConfig) { c.npartitions = n }
}

// WithSort controls sorting by index before partitioning. Sorting is on by
// default; without it divisions are unknown.
func WithSort(sort bool) FromFrameOption {
	return func(c *fromFrameConfig) { c.sort = sort }
}

// fromFrame is the leaf over an in-memory frame, split into partitions by
// index order.
type fromFrame struct {
	node
}

// NewFromFrame wraps an in-memory frame as a partitioned leaf expression.
func NewFromFrame(frame *Frame, opts ...FromFrameOption) Expr {
	cfg := fromFrameConfig{npartitions: 1, sort: true}
	for _, o := range opts {
		o(&cfg)
	}
	return rebuildFromFrame(frame, cfg.npartitions, cfg.sort, nil, nil)
}

func rebuildFromFrame(frame *Frame, npartitions int, sort bool, columns any, partitions []int) Expr {
	return &fromFrame{node: newNode("fromframe",
		[]string{"frame", "npartitions", "sort", "columns", "partitions"},
		[]any{frame, npartitions, sort, columns, partitions})}
}

func (f *fromFrame) rebuild(operands []any) Expr {
	parts, _ := operands[4].([]int)
	return rebuildFromFrame(operands[0].(*Frame), operands[1].(int), operands[2].(bool), operands[3], parts)
}

func (f *fromFrame) source() *Frame { return f.operands[0].(*Frame) }
func (f *fromFrame) columns() any   { return f.operands[3] }

func (f *fromFrame) partitions() []int {
	parts, _ := f.operands[4].([]int)
	return parts
}

// layout computes the ordered source frame, the full divisions, and the row
// offset of each partition boundary.
func (f *fromFrame) layout() (*Frame, Divisions, []int) {
	src := f.source()
	np := f.operands[1].(int)
	if f.operands[2].(bool) {
		src = src.SortByIndex()
		divs, offsets := sortedDivisionLocations(src.Index(), np)
		if offsets == nil {
			return src, nil, []int{0, 0}
		}
		return src, divs, offsets
	}
	n := src.NumRows()
	if np > n && n > 0 {
		np = n
	}
	if np < 1 {
		np = 1
	}
	offsets := make([]int, 0, np+1)
	for p := 0; p < np; p++ {
		offsets = append(offsets, p*n/np)
	}
	offsets = append(offsets, n)
	return src, nil, offsets
}

func (f *fromFrame) Meta() (*Meta, error) {
	return f.memoMeta(func() (*Meta, error) {
		out, err := selectOutput(f.source().ZeroRows(), f.columns())
		if err != nil {
			return nil, err
		}
		return metaFromValue(out)
	})
}

func (f *fromFrame) Divisions() (Divisions, error) {
	return f.memoDivisions(func() (Divisions, error) {
		_, divs, offsets := f.layout()
		if !divs.Known() {
			return nil, nil
		}
		return subsetDivisions(divs, allPartitions(f.partitions(), len(offsets)-1)), nil
	})
}

func (f *fromFrame) NPartitions() int {
	_, _, offsets := f.layout()
	return len(allPartitions(f.partitions(), len(offsets)-1))
}

func (f *fromFrame) layer(g *Graph) error {
	src, _, offsets := f.layout()
	parts := allPartitions(f.partitions(), len(offsets)-1)
	for k, p := range parts {
		slice := src.Slice(offsets[p], offsets[p+1])
		out, err := selectOutput(slice, f.columns())
		if err != nil {
			return err
		}
		g.AddTask(Key{Name: f.Name(), Part: k}, Task{Args: []any{out}})
	}
	return nil
}

func (f *fromFrame) combineToken() string {
	return "fromframe-" + tokenize(f.operands[0], f.operands[1], f.operands[2], f.operands[4])
}

func (f *fromFrame) leafColumns() any { return f.columns() }

func (f *fromFrame) withColumns(columns any) Expr {
	return substituteParameters(f, map[string]any{"columns": columns})
}

func (f *fromFrame) simplifyUp(parent Expr) Expr {
	switch p := parent.(type) {
	case *projection:
		if _, series := f.columns().(string); series {
			return nil
		}
		return substituteParameters(f, map[string]any{"columns": p.columns()})
	case *partitionsNode:
		composed, ok := composePartitions(f.partitions(), f.NPartitions(), p.indices())
		if !ok {
			return nil
		}
		return substituteParameters(f, map[string]any{"partitions": composed})
	}
	return nil
}

// composePartitions resolves a subset of a (possibly already subset) leaf's
// partitions back to source partition indices. Out-of-range requests report
// !ok so absorption can decline and leave the error to the partitions node.
func composePartitions(current []int, n int, wanted []int) ([]int, bool) {
	cur := allPartitions(current, n)
	out := make([]int, len(wanted))
	for i, w := range wanted {
		if w < 0 || w >= len(cur) {
			return nil, false
		}
		out[i] = cur[w]
	}
	return out, true
}

// partitionsNode restricts an expression to an explicit subset of its
// partitions without touching the nodes above or below it.
type partitionsNode struct {
	node
}

// NewPartitions keeps only the given partition indices of frame, renumbered
// from zero.
func NewPartitions(frame Expr, indices []int) Expr {
	return &partitionsNode{node: newNode("partitions", []string{"frame", "indices"}, []any{frame, indices})}
}

func (p *partitionsNode) rebuild(operands []any) Expr {
	return NewPartitions(operands[0].(Expr), operands[1].([]int))
}

func (p *partitionsNode) frame() Expr    { return p.operands[0].(Expr) }
func (p *partitionsNode) indices() []int { return p.operands[1].([]int) }

func (p *partitionsNode) fusable() bool { return false }

func (p *partitionsNode) Meta() (*Meta, error) {
	return p.memoMeta(func() (*Meta, error) {
		if err := checkPartitionIndices(p.indices(), p.frame().NPartitions()); err != nil {
			return nil, err
		}
		return p.frame().Meta()
	})
}

func (p *partitionsNode) Divisions() (Divisions, error) {
	return p.memoDivisions(func() (Divisions, error) {
		if err := checkPartitionIndices(p.indices(), p.frame().NPartitions()); err != nil {
			return nil, err
		}
		divs, err := p.frame().Divisions()
		if err != nil {
			return nil, err
		}
		return subsetDivisions(divs, p.indices()), nil
	})
}

func (p *partitionsNode) NPartitions() int { return len(p.indices()) }

func (p *partitionsNode) simplifyDown() Expr {
	child := p.frame()
	if inner, ok := child.(*partitionsNode); ok {
		merged := make([]int, len(p.indices()))
		for i, ix := range p.indices() {
			if ix < 0 || ix >= len(inner.indices()) {
				return nil
			}
			merged[i] = inner.indices()[ix]
		}
		return NewPartitions(inner.frame(), merged)
	}
	if len(p.indices()) == child.NPartitions() && contiguousAscending(p.indices()) && p.indices()[0] == 0 {
		return child
	}
	return nil
}

func (p *partitionsNode) layer(g *Graph) error {
	if err := checkPartitionIndices(p.indices(), p.frame().NPartitions()); err != nil {
		return err
	}
	identity := func(args []any) (any, error) { return args[0], nil }
	for k, ix := range p.indices() {
		g.AddTask(Key{Name: p.Name(), Part: k}, Task{
			Fn:   identity,
			Args: []any{Key{Name: p.frame().Name(), Part: ix}},
		})
	}
	return nil
}

// fromGraph wraps an already-materialized task graph as a leaf, so computed
// results can re-enter the expression world.
type fromGraph struct {
	node
	graph *Graph
	meta  *Meta
}

// NewFromGraph wraps a task graph whose terminal layer is named name with
// npartitions partitions.
func NewFromGraph(g *Graph, meta *Meta, divisions Divisions, npartitions int, name string) Expr {
	return &fromGraph{
		node:  newNode("fromgraph", []string{"name", "npartitions", "divisions"}, []any{name, npartitions, divisions}),
		graph: g,
		meta:  meta,
	}
}

func (f *fromGraph) Name() string { return f.operands[0].(string) }

func (f *fromGraph) rebuild(operands []any) Expr {
	return NewFromGraph(f.graph, f.meta, operands[2].(Divisions), operands[1].(int), operands[0].(string))
}

func (f *fromGraph) fusable() bool { return false }

func (f *fromGraph) Meta() (*Meta, error) { return f.meta, nil }

func (f *fromGraph) Divisions() (Divisions, error) {
	divs, _ := f.operands[2].(Divisions)
	return divs, nil
}

func (f *fromGraph) NPartitions() int { return f.operands[1].(int) }

func (f *fromGraph) layer(g *Graph) error {
	for k, t := range f.graph.Tasks {
		g.AddTask(k, t)
	}
	return nil
}

// repartitionNode coalesces adjacent partitions down to a smaller count.
type repartitionNode struct {
	node
}

// NewRepartition reduces the partition count by concatenating contiguous
// runs of partitions. The new count must not exceed the current one.
func NewRepartition(frame Expr, npartitions int) Expr {
	return &repartitionNode{node: newNode("repartition", []string{"frame", "npartitions"}, []any{frame, npartitions})}
}

func (r *repartitionNode) rebuild(operands []any) Expr {
	return NewRepartition(operands[0].(Expr), operands[1].(int))
}

func (r *repartitionNode) frame() Expr { return r.operands[0].(Expr) }
func (r *repartitionNode) want() int   { return r.operands[1].(int) }

func (r *repartitionNode) fusable() bool { return false }

// ranges maps each output partition to its input partition span.
func (r *repartitionNode) ranges() [][2]int {
	n := r.frame().NPartitions()
	k := r.want()
	out := make([][2]int, k)
	for i := 0; i < k; i++ {
		out[i] = [2]int{i * n / k, (i + 1) * n / k}
	}
	return out
}

func (r *repartitionNode) Meta() (*Meta, error) {
	return r.memoMeta(func() (*Meta, error) {
		if n := r.frame().NPartitions(); r.want() > n || r.want() < 1 {
			return nil, fmt.Errorf("repartition: %d partitions requested from %d (coalesce only)", r.want(), n)
		}
		return r.frame().Meta()
	})
}

func (r *repartitionNode) Divisions() (Divisions, error) {
	return r.memoDivisions(func() (Divisions, error) {
		divs, err := r.frame().Divisions()
		if err != nil || !divs.Known() {
			return nil, err
		}
		out := make(Divisions, 0, r.want()+1)
		for _, span := range r.ranges() {
			out = append(out, divs[span[0]])
		}
		out = append(out, divs[len(divs)-1])
		return out, nil
	})
}

func (r *repartitionNode) NPartitions() int { return r.want() }

func (r *repartitionNode) layer(g *Graph) error {
	concat := func(args []any) (any, error) {
		if len(args) == 1 {
			return args[0], nil
		}
		switch args[0].(type) {
		case *Frame:
			frames := make([]*Frame, len(args))
			for i, a := range args {
				f, ok := a.(*Frame)
				if !ok {
					return nil, fmt.Errorf("repartition: mixed partition types")
				}
				frames[i] = f
			}
			return ConcatFrames(frames)
		case *Column:
			columns := make([]*Column, len(args))
			for i, a := range args {
				c, ok := a.(*Column)
				if !ok {
					return nil, fmt.Errorf("repartition: mixed partition types")
				}
				columns[i] = c
			}
			return ConcatColumns(columns)
		}
		return nil, fmt.Errorf("repartition: unsupported partition type %T", args[0])
	}
	child := r.frame().Name()
	for part, span := range r.ranges() {
		args := make([]any, 0, span[1]-span[0])
		for p := span[0]; p < span[1]; p++ {
			args = append(args, Key{Name: child, Part: p})
		}
		g.AddTask(Key{Name: r.Name(), Part: part}, Task{Fn: concat, Args: args})
	}
	return nil
}
