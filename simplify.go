package armada

import "go.uber.org/zap"

// Simplify rewrites an expression tree to a fixed point of every node's
// local and parent-context rules. Convergence is detected by content name,
// so a rule that rebuilds an equivalent node terminates the loop.
func Simplify(e Expr) Expr {
	for {
		before := e.Name()
		e = simplifyPass(e)
		if e.Name() == before {
			return e
		}
		logger.Debug("simplify pass", zap.String("root", e.Name()))
	}
}

func simplifyPass(e Expr) Expr {
	// Local rules at this node, to their own fixed point.
	for {
		out := e.simplifyDown()
		if out == nil || out.Name() == e.Name() {
			break
		}
		e = out
	}

	// Parent-context rules: each child may propose a replacement for this
	// node. Restart from the replacement so its own rules get a chance.
	for _, dep := range e.Dependencies() {
		if out := dep.simplifyUp(e); out != nil && out.Name() != e.Name() {
			return simplifyPass(out)
		}
	}

	// Recurse into children.
	operands := e.Operands()
	rebuilt := make([]any, len(operands))
	changed := false
	for i, o := range operands {
		if c, ok := o.(Expr); ok {
			nc := simplifyPass(c)
			if nc.Name() != c.Name() {
				changed = true
			}
			rebuilt[i] = nc
		} else {
			rebuilt[i] = o
		}
	}
	if changed {
		e = e.rebuild(rebuilt)
	}
	return e
}

// substitute replaces every occurrence of the expression named targetName
// with repl, rebuilding the spine above each occurrence.
func substitute(e Expr, targetName string, repl Expr) Expr {
	if e.Name() == targetName {
		return repl
	}
	operands := e.Operands()
	rebuilt := make([]any, len(operands))
	changed := false
	for i, o := range operands {
		if c, ok := o.(Expr); ok {
			nc := substitute(c, targetName, repl)
			if nc.Name() != c.Name() {
				changed = true
			}
			rebuilt[i] = nc
		} else {
			rebuilt[i] = o
		}
	}
	if !changed {
		return e
	}
	return e.rebuild(rebuilt)
}

// substituteParameters rebuilds a node with some named operands replaced.
// Unknown names are ignored.
func substituteParameters(e Expr, updates map[string]any) Expr {
	operands := e.Operands()
	rebuilt := make([]any, len(operands))
	changed := false
	for i, p := range e.Parameters() {
		if i >= len(operands) {
			break
		}
		if v, ok := updates[p]; ok {
			rebuilt[i] = v
			changed = true
		} else {
			rebuilt[i] = operands[i]
		}
	}
	if !changed {
		return e
	}
	return e.rebuild(rebuilt)
}

// Optimize runs the full rewrite pipeline: simplification to a fixed point,
// combining of similar source reads, then blockwise fusion. Combining must
// not be followed by another simplify pass, or the selections it introduces
// would be absorbed right back into the leaves.
func Optimize(e Expr) Expr {
	e = Simplify(e)
	e = CombineSimilar(e)
	e = FuseBlockwise(e)
	return e
}
