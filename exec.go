package armada

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Execute runs a task graph synchronously and returns the value of each
// requested key, in order. It is a reference executor: correctness over
// parallelism. Failures are reported per terminal key and aggregated.
func Execute(ctx context.Context, g *Graph, keys []Key) ([]any, error) {
	memo := make(map[Key]any, len(g.Tasks))
	active := make(map[Key]bool)

	var eval func(k Key) (any, error)
	eval = func(k Key) (any, error) {
		if v, ok := memo[k]; ok {
			return v, nil
		}
		if active[k] {
			return nil, &TaskError{Key: k, Err: errCycle}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, ok := g.Tasks[k]
		if !ok {
			return nil, &MissingKeyError{Key: k}
		}
		active[k] = true
		defer delete(active, k)

		args := make([]any, len(task.Args))
		for i, a := range task.Args {
			if dep, ok := a.(Key); ok {
				v, err := eval(dep)
				if err != nil {
					return nil, err
				}
				args[i] = v
			} else {
				args[i] = a
			}
		}
		var out any
		if task.Fn == nil {
			out = args[0]
		} else {
			var err error
			out, err = task.Fn(args)
			if err != nil {
				return nil, &TaskError{Key: k, Err: err}
			}
		}
		memo[k] = out
		return out, nil
	}

	logger.Debug("executing graph", zap.Int("tasks", g.Len()), zap.Int("keys", len(keys)))
	out := make([]any, len(keys))
	var errs error
	for i, k := range keys {
		v, err := eval(k)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out[i] = v
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}
