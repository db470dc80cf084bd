package armada

import (
	"fmt"
	"sort"
)

// blockwiser is an expression whose physical task is a pointwise function
// applied per partition with no cross-partition communication.
type blockwiser interface {
	Expr
	// blockFn returns the partition kernel.
	blockFn() taskFunc
	// blockArgs returns the kernel's positional arguments; Expr entries are
	// resolved to the corresponding partition of that dependency.
	blockArgs() []any
}

// elemwiser marks operators that are row-local, so Head and Projection may
// distribute through them.
type elemwiser interface {
	blockwiser
	isElemwise()
}

// elemwiseMeta computes metadata by replaying the kernel on each argument's
// zero-row metadata.
func elemwiseMeta(b blockwiser) (*Meta, error) {
	args := b.blockArgs()
	vals := make([]any, len(args))
	for i, a := range args {
		if e, ok := a.(Expr); ok {
			m, err := e.Meta()
			if err != nil {
				return nil, err
			}
			vals[i] = m.Value()
		} else {
			vals[i] = a
		}
	}
	out, err := b.blockFn()(vals)
	if err != nil {
		return nil, err
	}
	return metaFromValue(out)
}

// broadcastDep reports whether dep feeds every partition of parent from its
// single partition.
func broadcastDep(dep Expr, parent Expr) bool {
	return dep.NPartitions() == 1 && exprNDim(dep) < exprNDim(parent)
}

// elemwiseDivisions derives divisions for a blockwise node: all non-broadcast
// dependencies must align partition for partition; any unknown boundary makes
// the result unknown. Partition counts are checked even without boundaries,
// so a misaligned single-partition input of the same shape fails here instead
// of dangling references at execution.
func elemwiseDivisions(b blockwiser) (Divisions, error) {
	var divs Divisions
	np, counted, unknown := 0, false, false
	for _, dep := range b.Dependencies() {
		if broadcastDep(dep, b) {
			continue
		}
		if counted && dep.NPartitions() != np {
			return nil, &DivisionMismatchError{Op: b.opName()}
		}
		np, counted = dep.NPartitions(), true
		d, err := dep.Divisions()
		if err != nil {
			return nil, err
		}
		if !d.Known() {
			unknown = true
			continue
		}
		if divs.Known() && !divs.Equal(d) {
			return nil, &DivisionMismatchError{Op: b.opName()}
		}
		divs = d
	}
	if unknown {
		return nil, nil
	}
	return divs, nil
}

// blockwiseLayer emits one task per partition, wiring each Expr argument to
// the matching partition key (partition 0 repeated for broadcast deps).
func blockwiseLayer(g *Graph, b blockwiser) error {
	n := b.NPartitions()
	args := b.blockArgs()
	for part := 0; part < n; part++ {
		taskArgs := make([]any, len(args))
		for i, a := range args {
			if e, ok := a.(Expr); ok {
				p := part
				if broadcastDep(e, b) {
					p = 0
				}
				taskArgs[i] = Key{Name: e.Name(), Part: p}
			} else {
				taskArgs[i] = a
			}
		}
		g.AddTask(Key{Name: b.Name(), Part: part}, Task{Fn: b.blockFn(), Args: taskArgs})
	}
	return nil
}

// binop is a binary arithmetic or comparison operator over frames, columns
// and scalars.
type binop struct {
	node
	sym string
	cmp bool
}

func newBinop(op, sym string, cmp bool, left, right any) *binop {
	left = normalizeScalar(literalValue(left))
	right = normalizeScalar(literalValue(right))
	return &binop{
		node: newNode(op, []string{"left", "right"}, []any{left, right}),
		sym:  sym,
		cmp:  cmp,
	}
}

// NewAdd builds left + right.
func NewAdd(left, right any) Expr { return newBinop("add", "+", false, left, right) }

// NewSub builds left - right.
func NewSub(left, right any) Expr { return newBinop("sub", "-", false, left, right) }

// NewMul builds left * right.
func NewMul(left, right any) Expr { return newBinop("mul", "*", false, left, right) }

// NewDiv builds left / right.
func NewDiv(left, right any) Expr { return newBinop("div", "/", false, left, right) }

// NewLt builds left < right.
func NewLt(left, right any) Expr { return newBinop("lt", "<", true, left, right) }

// NewLe builds left <= right.
func NewLe(left, right any) Expr { return newBinop("le", "<=", true, left, right) }

// NewGt builds left > right.
func NewGt(left, right any) Expr { return newBinop("gt", ">", true, left, right) }

// NewGe builds left >= right.
func NewGe(left, right any) Expr { return newBinop("ge", ">=", true, left, right) }

// NewEq builds left == right.
func NewEq(left, right any) Expr { return newBinop("eq", "==", true, left, right) }

// NewNe builds left != right.
func NewNe(left, right any) Expr { return newBinop("ne", "!=", true, left, right) }

func (b *binop) isElemwise() {}

func (b *binop) rebuild(operands []any) Expr {
	return newBinop(b.op, b.sym, b.cmp, operands[0], operands[1])
}

func (b *binop) left() any  { return b.operands[0] }
func (b *binop) right() any { return b.operands[1] }

func (b *binop) blockFn() taskFunc {
	sym, cmp := b.sym, b.cmp
	return func(args []any) (any, error) {
		if cmp {
			return applyComparison(sym, args[0], args[1])
		}
		return applyBinary(sym, args[0], args[1])
	}
}

func (b *binop) blockArgs() []any { return b.operands }

func (b *binop) Meta() (*Meta, error) {
	return b.memoMeta(func() (*Meta, error) { return elemwiseMeta(b) })
}

func (b *binop) Divisions() (Divisions, error) {
	return b.memoDivisions(func() (Divisions, error) { return elemwiseDivisions(b) })
}

func (b *binop) NPartitions() int { return maxDepPartitions(b) }

func (b *binop) layer(g *Graph) error { return blockwiseLayer(g, b) }

// binopScalarSide splits a binop into its scalar operand and its expression
// operand, when exactly one side is a plain scalar.
func binopScalarSide(b *binop) (scalar any, e Expr, ok bool) {
	le, lok := b.left().(Expr)
	re, rok := b.right().(Expr)
	switch {
	case lok && !rok:
		return b.right(), le, true
	case rok && !lok:
		return b.left(), re, true
	}
	return nil, nil, false
}

func (b *binop) simplifyDown() Expr {
	switch b.op {
	case "add":
		// x + x is cheaper as 2 * x.
		le, lok := b.left().(Expr)
		re, rok := b.right().(Expr)
		if lok && rok && le.Name() == re.Name() {
			return NewMul(int64(2), le)
		}
	case "mul":
		// Fold nested scalar factors: a * (b * x) becomes (a*b) * x.
		s1, e1, ok := binopScalarSide(b)
		if !ok {
			return nil
		}
		inner, ok := e1.(*binop)
		if !ok || inner.op != "mul" {
			return nil
		}
		s2, e2, ok := binopScalarSide(inner)
		if !ok {
			return nil
		}
		folded, err := arithScalars("*", s1, s2)
		if err != nil {
			return nil
		}
		return NewMul(folded, e2)
	}
	return nil
}

// projection selects columns from a frame: a []string keeps a frame shape,
// a plain string yields a single column.
type projection struct {
	node
}

// NewProjection selects columns from a frame expression. columns is either a
// string (series result) or a []string (frame result).
func NewProjection(frame Expr, columns any) Expr {
	return &projection{node: newNode("project", []string{"frame", "columns"}, []any{frame, columns})}
}

func (p *projection) isElemwise() {}

func (p *projection) rebuild(operands []any) Expr {
	return NewProjection(operands[0].(Expr), operands[1])
}

func (p *projection) frame() Expr  { return p.operands[0].(Expr) }
func (p *projection) columns() any { return p.operands[1] }

// columnList returns the selected columns as a slice regardless of the
// series/frame form.
func (p *projection) columnList() []string {
	switch c := p.columns().(type) {
	case string:
		return []string{c}
	case []string:
		return c
	}
	return nil
}

func (p *projection) blockFn() taskFunc {
	cols := p.columns()
	return func(args []any) (any, error) {
		f, ok := args[0].(*Frame)
		if !ok {
			return nil, fmt.Errorf("project: expected frame, got %T", args[0])
		}
		switch c := cols.(type) {
		case string:
			return f.Column(c)
		case []string:
			return f.Select(c)
		}
		return nil, fmt.Errorf("project: bad column selector %T", cols)
	}
}

func (p *projection) blockArgs() []any { return []any{p.frame()} }

func (p *projection) Meta() (*Meta, error) {
	return p.memoMeta(func() (*Meta, error) { return elemwiseMeta(p) })
}

func (p *projection) Divisions() (Divisions, error) {
	return p.memoDivisions(func() (Divisions, error) { return p.frame().Divisions() })
}

func (p *projection) NPartitions() int { return p.frame().NPartitions() }

func (p *projection) layer(g *Graph) error { return blockwiseLayer(g, p) }

func (p *projection) simplifyDown() Expr {
	switch child := p.frame().(type) {
	case *projection:
		// Nested selections collapse when the outer set is contained in the
		// inner one.
		inner, ok := child.columns().([]string)
		if !ok {
			return nil
		}
		if !subset(p.columnList(), inner) {
			return nil
		}
		return NewProjection(child.frame(), p.columns())
	case *binop:
		return p.pushIntoBinop(child)
	case *filter:
		return p.pushBelowFilter(child)
	case *assign:
		// A selection that drops the assigned column drops the assignment.
		name := child.Operand("name").(string)
		if !contains(p.columnList(), name) {
			return NewProjection(child.frame(), p.columns())
		}
	}
	return nil
}

// pushIntoBinop rewrites select(x op y) as select(x) op select(y) for the
// frame-shaped operands.
func (p *projection) pushIntoBinop(child *binop) Expr {
	pushed := false
	push := func(o any) any {
		e, ok := o.(Expr)
		if !ok || exprNDim(e) != 2 {
			return o
		}
		pushed = true
		return NewProjection(e, p.columns())
	}
	left, right := push(child.left()), push(child.right())
	if !pushed {
		return nil
	}
	return child.rebuild([]any{left, right})
}

// pushBelowFilter rewrites select(filter(df, pred)) so the selection happens
// before the filter, widening it with the columns the predicate reads.
func (p *projection) pushBelowFilter(child *filter) Expr {
	df := child.frame()
	if _, ok := df.(*projection); ok {
		return nil
	}
	predCols, ok := predicateColumns(child.predicate(), df)
	if !ok {
		return nil
	}
	cols := p.columnList()
	union := unionColumns(df, cols, predCols)
	narrowed := NewProjection(df, union)
	pred := substitute(child.predicate(), df.Name(), narrowed)
	filtered := NewFilter(narrowed, pred)
	if len(union) == len(cols) && subset(union, cols) {
		if _, series := p.columns().(string); !series {
			return filtered
		}
	}
	return NewProjection(filtered, p.columns())
}

// predicateColumns returns the columns a predicate reads from frame, and
// false when the predicate references the frame other than through a
// single-column selection.
func predicateColumns(pred Expr, frame Expr) ([]string, bool) {
	if proj, ok := pred.(*projection); ok {
		if fe := proj.frame(); fe.Name() == frame.Name() {
			col, ok := proj.columns().(string)
			if !ok {
				return nil, false
			}
			return []string{col}, true
		}
	}
	var cols []string
	for _, o := range pred.Operands() {
		e, ok := o.(Expr)
		if !ok {
			continue
		}
		if e.Name() == frame.Name() {
			return nil, false
		}
		sub, ok := predicateColumns(e, frame)
		if !ok {
			return nil, false
		}
		cols = append(cols, sub...)
	}
	return cols, true
}

// unionColumns merges column sets preserving the frame's column order.
func unionColumns(frame Expr, a, b []string) []string {
	want := make(map[string]bool, len(a)+len(b))
	for _, c := range a {
		want[c] = true
	}
	for _, c := range b {
		want[c] = true
	}
	if m, err := frame.Meta(); err == nil && m.Kind == KindFrame {
		var out []string
		for _, c := range m.Columns() {
			if want[c] {
				out = append(out, c)
			}
		}
		if len(out) == len(want) {
			return out
		}
	}
	out := make([]string, 0, len(want))
	for c := range want {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func subset(sub, super []string) bool {
	for _, c := range sub {
		if !contains(super, c) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, c := range list {
		if c == v {
			return true
		}
	}
	return false
}

// filter keeps the rows of a frame (or column) where a boolean predicate
// expression is true.
type filter struct {
	node
}

// NewFilter restricts frame to the rows where predicate is true.
func NewFilter(frame, predicate Expr) Expr {
	return &filter{node: newNode("filter", []string{"frame", "predicate"}, []any{frame, predicate})}
}

func (f *filter) rebuild(operands []any) Expr {
	return NewFilter(operands[0].(Expr), operands[1].(Expr))
}

func (f *filter) frame() Expr     { return f.operands[0].(Expr) }
func (f *filter) predicate() Expr { return f.operands[1].(Expr) }

func (f *filter) blockFn() taskFunc {
	return func(args []any) (any, error) {
		mask, ok := args[1].(*Column)
		if !ok {
			return nil, fmt.Errorf("filter: expected boolean column predicate, got %T", args[1])
		}
		switch v := args[0].(type) {
		case *Frame:
			return v.FilterMask(mask)
		case *Column:
			return v.FilterMask(mask)
		}
		return nil, fmt.Errorf("filter: expected frame or column, got %T", args[0])
	}
}

func (f *filter) blockArgs() []any { return f.operands }

func (f *filter) Meta() (*Meta, error) {
	return f.memoMeta(func() (*Meta, error) { return elemwiseMeta(f) })
}

func (f *filter) Divisions() (Divisions, error) {
	// Rows only drop out, so the source boundaries still bound each
	// partition's index range.
	return f.memoDivisions(func() (Divisions, error) { return f.frame().Divisions() })
}

func (f *filter) NPartitions() int { return f.frame().NPartitions() }

func (f *filter) layer(g *Graph) error { return blockwiseLayer(g, f) }

// assign adds or replaces one column of a frame.
type assign struct {
	node
}

// NewAssign adds value under name, replacing any existing column. value is a
// column expression or a scalar broadcast to every row.
func NewAssign(frame Expr, name string, value any) Expr {
	value = normalizeScalar(literalValue(value))
	return &assign{node: newNode("assign", []string{"frame", "name", "value"}, []any{frame, name, value})}
}

func (a *assign) isElemwise() {}

func (a *assign) rebuild(operands []any) Expr {
	return NewAssign(operands[0].(Expr), operands[1].(string), operands[2])
}

func (a *assign) frame() Expr { return a.operands[0].(Expr) }

func (a *assign) blockFn() taskFunc {
	name := a.operands[1].(string)
	return func(args []any) (any, error) {
		f, ok := args[0].(*Frame)
		if !ok {
			return nil, fmt.Errorf("assign: expected frame, got %T", args[0])
		}
		switch v := args[1].(type) {
		case *Column:
			return f.Assign(v.Rename(name))
		default:
			dt, ok := dtypeOf(v)
			if !ok {
				return nil, fmt.Errorf("assign: unsupported value type %T", v)
			}
			col := emptyColumn(name, dt)
			for i := 0; i < f.NumRows(); i++ {
				col.appendValue(v)
			}
			return f.Assign(col)
		}
	}
}

func (a *assign) blockArgs() []any { return []any{a.operands[0], a.operands[2]} }

func (a *assign) Meta() (*Meta, error) {
	return a.memoMeta(func() (*Meta, error) { return elemwiseMeta(a) })
}

func (a *assign) Divisions() (Divisions, error) {
	return a.memoDivisions(func() (Divisions, error) { return elemwiseDivisions(a) })
}

func (a *assign) NPartitions() int { return a.frame().NPartitions() }

func (a *assign) layer(g *Graph) error { return blockwiseLayer(g, a) }

// astype converts column dtypes.
type astype struct {
	node
}

// NewAsType converts the listed columns of a frame to new dtypes. For a
// column expression the map must hold a single entry for that column.
func NewAsType(frame Expr, dtypes map[string]DType) Expr {
	return &astype{node: newNode("astype", []string{"frame", "dtypes"}, []any{frame, dtypes})}
}

func (a *astype) isElemwise() {}

func (a *astype) rebuild(operands []any) Expr {
	return NewAsType(operands[0].(Expr), operands[1].(map[string]DType))
}

func (a *astype) frame() Expr { return a.operands[0].(Expr) }

func (a *astype) blockFn() taskFunc {
	dtypes := a.operands[1].(map[string]DType)
	return func(args []any) (any, error) {
		switch v := args[0].(type) {
		case *Frame:
			return v.CastColumns(dtypes)
		case *Column:
			dt, ok := dtypes[v.Name()]
			if !ok {
				return nil, &ColumnNotFoundError{Column: v.Name(), Available: mapKeys(dtypes)}
			}
			return v.CastTo(dt)
		}
		return nil, fmt.Errorf("astype: expected frame or column, got %T", args[0])
	}
}

func (a *astype) blockArgs() []any { return []any{a.operands[0]} }

func (a *astype) Meta() (*Meta, error) {
	return a.memoMeta(func() (*Meta, error) { return elemwiseMeta(a) })
}

func (a *astype) Divisions() (Divisions, error) {
	return a.memoDivisions(func() (Divisions, error) { return a.frame().Divisions() })
}

func (a *astype) NPartitions() int { return a.frame().NPartitions() }

func (a *astype) layer(g *Graph) error { return blockwiseLayer(g, a) }

func mapKeys(m map[string]DType) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// applyNode runs a user function on every partition. The label is the user's
// identity for the function: two applies with the same label and input are
// considered the same operation.
type applyNode struct {
	node
	fn func(*Frame) (*Frame, error)
}

// NewApply maps fn over every partition. label distinguishes functions for
// naming; callers must give distinct functions distinct labels.
func NewApply(frame Expr, label string, fn func(*Frame) (*Frame, error)) Expr {
	return &applyNode{
		node: newNode("apply", []string{"frame", "label"}, []any{frame, label}),
		fn:   fn,
	}
}

func (a *applyNode) rebuild(operands []any) Expr {
	return NewApply(operands[0].(Expr), operands[1].(string), a.fn)
}

func (a *applyNode) frame() Expr { return a.operands[0].(Expr) }

func (a *applyNode) blockFn() taskFunc {
	fn := a.fn
	return func(args []any) (any, error) {
		f, ok := args[0].(*Frame)
		if !ok {
			return nil, fmt.Errorf("apply: expected frame, got %T", args[0])
		}
		return fn(f)
	}
}

func (a *applyNode) blockArgs() []any { return []any{a.operands[0]} }

func (a *applyNode) Meta() (*Meta, error) {
	return a.memoMeta(func() (*Meta, error) { return elemwiseMeta(a) })
}

func (a *applyNode) Divisions() (Divisions, error) {
	// The function may reshape rows arbitrarily, so boundary values cannot
	// be trusted.
	return nil, nil
}

func (a *applyNode) NPartitions() int { return a.frame().NPartitions() }

func (a *applyNode) layer(g *Graph) error { return blockwiseLayer(g, a) }

// head takes the first n rows of the first partition.
type head struct {
	node
}

// NewHead returns the first n rows, read from the first partition only.
func NewHead(frame Expr, n int) Expr {
	return &head{node: newNode("head", []string{"frame", "n"}, []any{frame, n})}
}

func (h *head) rebuild(operands []any) Expr {
	return NewHead(operands[0].(Expr), operands[1].(int))
}

func (h *head) frame() Expr { return h.operands[0].(Expr) }
func (h *head) n() int      { return h.operands[1].(int) }

func (h *head) fusable() bool { return false }

func (h *head) Meta() (*Meta, error) {
	return h.memoMeta(func() (*Meta, error) { return h.frame().Meta() })
}

func (h *head) Divisions() (Divisions, error) {
	return h.memoDivisions(func() (Divisions, error) {
		d, err := h.frame().Divisions()
		if err != nil || !d.Known() {
			return nil, err
		}
		return Divisions{d[0], d[1]}, nil
	})
}

func (h *head) NPartitions() int { return 1 }

func (h *head) layer(g *Graph) error {
	n := h.n()
	fn := func(args []any) (any, error) {
		switch v := args[0].(type) {
		case *Frame:
			return v.Head(n), nil
		case *Column:
			return v.Head(n), nil
		}
		return nil, fmt.Errorf("head: expected frame or column, got %T", args[0])
	}
	g.AddTask(Key{Name: h.Name(), Part: 0}, Task{
		Fn:   fn,
		Args: []any{Key{Name: h.frame().Name(), Part: 0}},
	})
	return nil
}

func (h *head) simplifyDown() Expr {
	switch child := h.frame().(type) {
	case *head:
		// head(head(x, a), b) keeps the tighter bound.
		n := h.n()
		if m := child.n(); m < n {
			n = m
		}
		return NewHead(child.frame(), n)
	case elemwiser:
		// Row-local operators commute with head, so pull head to the leaves
		// and shrink the data read.
		operands := child.Operands()
		rebuilt := make([]any, len(operands))
		pushed := false
		for i, o := range operands {
			if e, ok := o.(Expr); ok && exprNDim(e) >= 1 {
				rebuilt[i] = NewHead(e, h.n())
				pushed = true
			} else {
				rebuilt[i] = o
			}
		}
		if !pushed {
			return nil
		}
		return child.rebuild(rebuilt)
	}
	return nil
}
