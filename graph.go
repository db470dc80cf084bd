package armada

import "fmt"

// taskFunc is a partition kernel. Arguments arrive already resolved: any Key
// reference in a task's Args has been replaced with the producing task's
// result.
type taskFunc func(args []any) (any, error)

// Key identifies one task's output: the owning expression's name plus the
// partition number.
type Key struct {
	Name string
	Part int
}

func (k Key) String() string { return fmt.Sprintf("(%s, %d)", k.Name, k.Part) }

// Task is a single unit of work. Args may hold Key values, which the
// executor resolves to upstream results before invoking Fn. A nil Fn means
// the task's value is Args[0] as-is.
type Task struct {
	Fn   taskFunc
	Args []any
}

// Graph is a flat task graph keyed by (name, partition).
type Graph struct {
	Tasks map[Key]Task

	// layered tracks which expression names have already emitted their
	// tasks, so shared subexpressions materialize once.
	layered map[string]bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Tasks: make(map[Key]Task), layered: make(map[string]bool)}
}

// AddTask records a task under its key.
func (g *Graph) AddTask(key Key, task Task) {
	g.Tasks[key] = task
}

// Keys returns every key in the graph.
func (g *Graph) Keys() []Key {
	keys := make([]Key, 0, len(g.Tasks))
	for k := range g.Tasks {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the task count.
func (g *Graph) Len() int { return len(g.Tasks) }

// add materializes an expression and its dependencies into the graph,
// emitting each distinct expression name exactly once.
func (g *Graph) add(e Expr) error {
	if g.layered[e.Name()] {
		return nil
	}
	g.layered[e.Name()] = true
	for _, dep := range e.Dependencies() {
		if err := g.add(dep); err != nil {
			return err
		}
	}
	return e.layer(g)
}

// Materialize converts an expression tree into a task graph and returns the
// graph along with the expression's output keys, one per partition.
func Materialize(e Expr) (*Graph, []Key, error) {
	g := NewGraph()
	if err := g.add(e); err != nil {
		return nil, nil, err
	}
	n := e.NPartitions()
	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		keys[i] = Key{Name: e.Name(), Part: i}
	}
	return g, keys, nil
}
