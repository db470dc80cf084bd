package armada

import (
	"fmt"
	"strings"
	"sync"
)

// Expr is a node in the lazy expression tree. Expressions are immutable:
// every rewrite produces a new node, and identity is the content-derived
// Name. Meta, Divisions and Name are memoized per node.
type Expr interface {
	// Name returns the deterministic content-derived identifier. Two
	// expressions with the same Name are interchangeable.
	Name() string
	// Parameters returns the declared operand names, in positional order.
	Parameters() []string
	// Operands returns the operand values, parallel to Parameters.
	Operands() []any
	// Operand returns the operand with the given parameter name. It panics
	// with *UnknownParameterError when no such parameter is declared.
	Operand(name string) any
	// Dependencies returns the operands that are themselves expressions.
	Dependencies() []Expr
	// Meta returns the zero-row schema of the result.
	Meta() (*Meta, error)
	// Divisions returns the index boundaries of the result, nil when unknown.
	Divisions() (Divisions, error)
	// NPartitions returns the number of partitions of the result.
	NPartitions() int

	fmt.Stringer

	// opName returns the operator kind label.
	opName() string
	// rebuild constructs a node of the same type with replaced operands.
	rebuild(operands []any) Expr
	// simplifyDown returns a simpler equivalent using only this node and its
	// children, or nil when no rule applies.
	simplifyDown() Expr
	// simplifyUp returns a simpler equivalent given the parent about to
	// consume this node, or nil when no rule applies.
	simplifyUp(parent Expr) Expr
	// fusable reports whether this node may join a blockwise fusion group.
	fusable() bool
	// layer appends this node's tasks to the graph. Dependencies are already
	// materialized.
	layer(g *Graph) error
}

// node carries the operand storage and memoization shared by every
// expression type.
type node struct {
	op       string
	params   []string
	operands []any

	nameOnce sync.Once
	name     string

	metaOnce sync.Once
	meta     *Meta
	metaErr  error

	divOnce sync.Once
	divs    Divisions
	divErr  error
}

func newNode(op string, params []string, operands []any) node {
	return node{op: op, params: params, operands: operands}
}

func (n *node) Name() string {
	n.nameOnce.Do(func() {
		n.name = n.op + "-" + tokenize(n.operands...)
	})
	return n.name
}

func (n *node) opName() string { return n.op }

func (n *node) Parameters() []string { return n.params }

func (n *node) Operands() []any { return n.operands }

func (n *node) Operand(name string) any {
	for i, p := range n.params {
		if p == name {
			if i < len(n.operands) {
				return n.operands[i]
			}
			break
		}
	}
	panic(&UnknownParameterError{Op: n.op, Param: name, Valid: n.params})
}

func (n *node) Dependencies() []Expr {
	var deps []Expr
	for _, o := range n.operands {
		if e, ok := o.(Expr); ok {
			deps = append(deps, e)
		}
	}
	return deps
}

func (n *node) String() string {
	parts := make([]string, len(n.operands))
	for i, o := range n.operands {
		switch v := o.(type) {
		case Expr:
			parts[i] = v.String()
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		case nil:
			parts[i] = "nil"
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return n.op + "(" + strings.Join(parts, ", ") + ")"
}

func (n *node) simplifyDown() Expr          { return nil }
func (n *node) simplifyUp(parent Expr) Expr { return nil }
func (n *node) fusable() bool               { return true }

func (n *node) memoMeta(fn func() (*Meta, error)) (*Meta, error) {
	n.metaOnce.Do(func() { n.meta, n.metaErr = fn() })
	return n.meta, n.metaErr
}

func (n *node) memoDivisions(fn func() (Divisions, error)) (Divisions, error) {
	n.divOnce.Do(func() { n.divs, n.divErr = fn() })
	return n.divs, n.divErr
}

// exprNDim returns the dimensionality of an expression's result, 0 when the
// schema cannot be computed.
func exprNDim(e Expr) int {
	m, err := e.Meta()
	if err != nil {
		return 0
	}
	return m.NDim()
}

// maxDepPartitions returns the largest partition count among dependencies,
// at least 1.
func maxDepPartitions(e Expr) int {
	n := 1
	for _, dep := range e.Dependencies() {
		if p := dep.NPartitions(); p > n {
			n = p
		}
	}
	return n
}

// literal wraps a plain Go value as a single-partition scalar expression.
type literal struct {
	node
	value any
}

// NewLiteral wraps a scalar value as an expression.
func NewLiteral(value any) Expr {
	value = normalizeScalar(value)
	return &literal{node: newNode("literal", []string{"value"}, []any{value}), value: value}
}

func (l *literal) rebuild(operands []any) Expr { return NewLiteral(operands[0]) }

func (l *literal) Meta() (*Meta, error) {
	return l.memoMeta(func() (*Meta, error) {
		dt, ok := dtypeOf(l.value)
		if !ok {
			return nil, fmt.Errorf("literal: unsupported value type %T", l.value)
		}
		return metaForScalar(dt), nil
	})
}

func (l *literal) Divisions() (Divisions, error) { return nil, nil }

func (l *literal) NPartitions() int { return 1 }

func (l *literal) layer(g *Graph) error {
	g.AddTask(Key{Name: l.Name(), Part: 0}, Task{Args: []any{l.value}})
	return nil
}

// asExpr passes expressions through and wraps anything else as a literal.
func asExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return NewLiteral(v)
}

// literalValue unwraps a literal expression back into its plain value; other
// expressions pass through unchanged.
func literalValue(v any) any {
	if l, ok := v.(*literal); ok {
		return l.value
	}
	return v
}
