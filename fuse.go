package armada

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FuseBlockwise collapses chains of single-consumer blockwise nodes into
// fused nodes, so each partition of a chain runs as one task.
func FuseBlockwise(e Expr) Expr {
	for {
		before := e.Name()
		next, done := fusionPass(e)
		e = next
		if done || e.Name() == before {
			return e
		}
	}
}

// fusionPass finds one maximal fusable group and substitutes it. The bool
// result reports that no further groups remain.
func fusionPass(root Expr) (Expr, bool) {
	nodes := make(map[string]Expr)
	dependents := make(map[string]map[string]bool)
	dependencies := make(map[string][]Expr)

	var walk func(e Expr)
	walk = func(e Expr) {
		if _, ok := nodes[e.Name()]; ok {
			return
		}
		nodes[e.Name()] = e
		if e.fusable() {
			if dependents[e.Name()] == nil {
				dependents[e.Name()] = make(map[string]bool)
			}
		}
		for _, dep := range e.Dependencies() {
			if e.fusable() && dep.fusable() {
				dependencies[e.Name()] = append(dependencies[e.Name()], dep)
				if dependents[dep.Name()] == nil {
					dependents[dep.Name()] = make(map[string]bool)
				}
				dependents[dep.Name()][e.Name()] = true
			}
			walk(dep)
		}
	}
	walk(root)

	// Roots are fusable nodes with no fusable dependents.
	var roots []Expr
	for name := range dependents {
		if len(dependents[name]) == 0 {
			roots = append(roots, nodes[name])
		}
	}

	for len(roots) > 0 {
		r := roots[len(roots)-1]
		roots = roots[:len(roots)-1]

		member := make(map[string]bool)
		var group []Expr
		stack := []Expr{r}
		pending := map[string]bool{r.Name(): true}
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if member[next.Name()] {
				continue
			}
			member[next.Name()] = true
			group = append(group, next)
			for _, dep := range dependencies[next.Name()] {
				// A dependency joins only when every consumer it has is
				// already inside (or headed into) the group.
				contained := true
				for consumer := range dependents[dep.Name()] {
					if !member[consumer] && !pending[consumer] {
						contained = false
						break
					}
				}
				if contained {
					stack = append(stack, dep)
					pending[dep.Name()] = true
				} else if len(dependencies[dep.Name()]) > 0 {
					roots = append(roots, dep)
				}
			}
		}

		if len(group) > 1 {
			var external []Expr
			extSeen := make(map[string]bool)
			for _, m := range group {
				for _, dep := range m.Dependencies() {
					if !member[dep.Name()] && !extSeen[dep.Name()] {
						extSeen[dep.Name()] = true
						external = append(external, dep)
					}
				}
			}
			f := newFused(group, external)
			logger.Debug("fused blockwise group",
				zap.Int("members", len(group)), zap.String("name", f.Name()))
			return substitute(root, group[0].Name(), f), len(roots) == 0
		}
	}
	return root, true
}

// fused is a group of blockwise expressions executed as one task per
// partition. It exposes the meta, divisions and partitioning of the group's
// top member, so the surrounding tree is unaffected.
type fused struct {
	node
	exprs    []Expr
	external []Expr
}

func newFused(exprs []Expr, external []Expr) *fused {
	operands := make([]any, 0, len(external)+1)
	operands = append(operands, exprs)
	for _, dep := range external {
		operands = append(operands, dep)
	}
	return &fused{
		node:     newNode(fusedLabel(exprs), []string{"exprs"}, operands),
		exprs:    exprs,
		external: external,
	}
}

// fusedLabel abbreviates the member operator kinds into the node label.
func fusedLabel(exprs []Expr) string {
	names := make([]string, len(exprs))
	for i, e := range exprs {
		names[i] = e.opName()
	}
	if len(names) > 3 {
		names = []string{names[0], fmt.Sprintf("%d", len(names)-2), names[len(names)-1]}
	}
	return "fused-" + strings.Join(names, "-")
}

func (f *fused) rebuild(operands []any) Expr {
	external := make([]Expr, 0, len(operands)-1)
	for _, o := range operands[1:] {
		external = append(external, o.(Expr))
	}
	return newFused(operands[0].([]Expr), external)
}

func (f *fused) Dependencies() []Expr { return f.external }

func (f *fused) fusable() bool { return false }

func (f *fused) Meta() (*Meta, error) { return f.exprs[0].Meta() }

func (f *fused) Divisions() (Divisions, error) { return f.exprs[0].Divisions() }

func (f *fused) NPartitions() int { return f.exprs[0].NPartitions() }

func (f *fused) layer(g *Graph) error {
	// Member tasks go into a private graph; each fused task resolves its
	// partition's slice of that graph in-process.
	local := NewGraph()
	for _, m := range f.exprs {
		if err := m.layer(local); err != nil {
			return err
		}
	}
	rootName := f.exprs[0].Name()
	n := f.NPartitions()
	for part := 0; part < n; part++ {
		extKeys := make([]Key, len(f.external))
		args := make([]any, len(f.external))
		for i, dep := range f.external {
			p := part
			if dep.NPartitions() == 1 {
				p = 0
			}
			extKeys[i] = Key{Name: dep.Name(), Part: p}
			args[i] = extKeys[i]
		}
		part := part
		fn := func(vals []any) (any, error) {
			env := make(map[Key]any, 2*len(vals))
			for i, k := range extKeys {
				env[k] = vals[i]
				// Single-partition deps may be referenced either way by
				// interior members.
				env[Key{Name: k.Name, Part: part}] = vals[i]
			}
			return resolveLocal(local, Key{Name: rootName, Part: part}, env, make(map[Key]any))
		}
		g.AddTask(Key{Name: f.Name(), Part: part}, Task{Fn: fn, Args: args})
	}
	return nil
}

// resolveLocal evaluates a key inside a fused group's private graph, taking
// external inputs from env.
func resolveLocal(g *Graph, key Key, env map[Key]any, memo map[Key]any) (any, error) {
	if v, ok := memo[key]; ok {
		return v, nil
	}
	if v, ok := env[key]; ok {
		return v, nil
	}
	task, ok := g.Tasks[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	args := make([]any, len(task.Args))
	for i, a := range task.Args {
		if k, ok := a.(Key); ok {
			v, err := resolveLocal(g, k, env, memo)
			if err != nil {
				return nil, err
			}
			args[i] = v
		} else {
			args[i] = a
		}
	}
	var out any
	var err error
	if task.Fn == nil {
		out = args[0]
	} else {
		out, err = task.Fn(args)
		if err != nil {
			return nil, &TaskError{Key: key, Err: err}
		}
	}
	memo[key] = out
	return out, nil
}
