package armada

import "go.uber.org/zap"

// combinableLeaf is an IO leaf that can merge with other reads of the same
// source state that differ only in their column selection.
type combinableLeaf interface {
	Expr
	// combineToken identifies the source state ignoring columns.
	combineToken() string
	// leafColumns returns the current column selection operand.
	leafColumns() any
	// withColumns rebuilds the leaf with a different column selection.
	withColumns(columns any) Expr
}

// CombineSimilar replaces multiple reads of the same source with one read
// of the union of their columns, each original access becoming a cheap
// in-memory column selection over the shared read.
func CombineSimilar(e Expr) Expr {
	groups := make(map[string][]combinableLeaf)
	collectLeaves(e, groups, make(map[string]bool))
	for token, leaves := range groups {
		if len(leaves) < 2 {
			continue
		}
		combined := combineGroup(leaves)
		if combined == nil {
			continue
		}
		logger.Debug("combined similar reads",
			zap.String("source", token), zap.Int("reads", len(leaves)))
		for _, leaf := range leaves {
			e = substitute(e, leaf.Name(), accessCombined(combined, leaf.leafColumns()))
		}
	}
	return e
}

func collectLeaves(e Expr, groups map[string][]combinableLeaf, seen map[string]bool) {
	if seen[e.Name()] {
		return
	}
	seen[e.Name()] = true
	if leaf, ok := e.(combinableLeaf); ok {
		groups[leaf.combineToken()] = append(groups[leaf.combineToken()], leaf)
		return
	}
	for _, dep := range e.Dependencies() {
		collectLeaves(dep, groups, seen)
	}
}

// combineGroup builds the shared read for a group, or nil when the group
// already reads identical columns.
func combineGroup(leaves []combinableLeaf) Expr {
	first := leaves[0].Name()
	distinct := false
	for _, l := range leaves[1:] {
		if l.Name() != first {
			distinct = true
			break
		}
	}
	if !distinct {
		return nil
	}
	var union []string
	for _, l := range leaves {
		switch c := l.leafColumns().(type) {
		case nil:
			// One full read forces the combined read to stay full.
			return leaves[0].withColumns(nil)
		case string:
			if !contains(union, c) {
				union = append(union, c)
			}
		case []string:
			for _, col := range c {
				if !contains(union, col) {
					union = append(union, col)
				}
			}
		}
	}
	combined := leaves[0].withColumns(union)
	if m, err := combined.Meta(); err == nil && m.Kind == KindFrame {
		// Keep the source's own column order stable across runs.
		union = m.Columns()
		combined = leaves[0].withColumns(union)
	}
	return combined
}

// accessCombined re-creates a member's original selection on top of the
// shared read.
func accessCombined(combined Expr, columns any) Expr {
	if columns == nil {
		return combined
	}
	return NewProjection(combined, columns)
}
