package armada

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestExecuteResolvesDependencies(t *testing.T) {
	g := NewGraph()
	g.AddTask(Key{Name: "x", Part: 0}, Task{Args: []any{int64(2)}})
	g.AddTask(Key{Name: "x", Part: 1}, Task{Args: []any{int64(3)}})
	g.AddTask(Key{Name: "y", Part: 0}, Task{
		Fn:   func(args []any) (any, error) { return args[0].(int64) * args[1].(int64), nil },
		Args: []any{Key{Name: "x", Part: 0}, Key{Name: "x", Part: 1}},
	})

	vals, err := Execute(context.Background(), g, []Key{{Name: "y", Part: 0}})
	require.NoError(t, err)
	require.Equal(t, []any{int64(6)}, vals)
}

func TestExecuteMissingKey(t *testing.T) {
	g := NewGraph()
	_, err := Execute(context.Background(), g, []Key{{Name: "nope", Part: 0}})
	var mke *MissingKeyError
	require.ErrorAs(t, err, &mke)
	require.Equal(t, "nope", mke.Key.Name)
}

func TestExecuteDetectsCycle(t *testing.T) {
	g := NewGraph()
	id := func(args []any) (any, error) { return args[0], nil }
	g.AddTask(Key{Name: "a", Part: 0}, Task{Fn: id, Args: []any{Key{Name: "b", Part: 0}}})
	g.AddTask(Key{Name: "b", Part: 0}, Task{Fn: id, Args: []any{Key{Name: "a", Part: 0}}})

	_, err := Execute(context.Background(), g, []Key{{Name: "a", Part: 0}})
	require.ErrorIs(t, err, errCycle)
}

func TestExecuteWrapsTaskErrors(t *testing.T) {
	boom := errors.New("boom")
	g := NewGraph()
	g.AddTask(Key{Name: "a", Part: 0}, Task{Fn: func([]any) (any, error) { return nil, boom }})

	_, err := Execute(context.Background(), g, []Key{{Name: "a", Part: 0}})
	var te *TaskError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "a", te.Key.Name)
	require.ErrorIs(t, err, boom)
}

func TestExecuteAggregatesTerminalFailures(t *testing.T) {
	g := NewGraph()
	fail := func([]any) (any, error) { return nil, errors.New("boom") }
	g.AddTask(Key{Name: "a", Part: 0}, Task{Fn: fail})
	g.AddTask(Key{Name: "a", Part: 1}, Task{Fn: fail})

	_, err := Execute(context.Background(), g, []Key{{Name: "a", Part: 0}, {Name: "a", Part: 1}})
	require.Len(t, multierr.Errors(err), 2)
}

func TestExecuteHonorsContext(t *testing.T) {
	g := NewGraph()
	g.AddTask(Key{Name: "a", Part: 0}, Task{Args: []any{int64(1)}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, g, []Key{{Name: "a", Part: 0}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteMemoizesSharedTasks(t *testing.T) {
	calls := 0
	g := NewGraph()
	g.AddTask(Key{Name: "x", Part: 0}, Task{Fn: func([]any) (any, error) {
		calls++
		return int64(1), nil
	}})
	id := func(args []any) (any, error) { return args[0], nil }
	g.AddTask(Key{Name: "a", Part: 0}, Task{Fn: id, Args: []any{Key{Name: "x", Part: 0}}})
	g.AddTask(Key{Name: "b", Part: 0}, Task{Fn: id, Args: []any{Key{Name: "x", Part: 0}}})

	_, err := Execute(context.Background(), g, []Key{{Name: "a", Part: 0}, {Name: "b", Part: 0}})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
