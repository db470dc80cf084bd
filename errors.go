package armada

import (
	"errors"
	"fmt"
	"strings"
)

// errCycle reports a dependency cycle in a task graph, which only a
// malformed layer can produce.
var errCycle = errors.New("dependency cycle in task graph")

// UnknownParameterError occurs when an operand is requested (or supplied)
// under a name the operator does not declare.
type UnknownParameterError struct {
	Op    string
	Param string
	Valid []string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("%s: unknown parameter %q (valid parameters: %s)",
		e.Op, e.Param, strings.Join(e.Valid, ", "))
}

// MissingOperandError occurs when an operator is constructed without a
// required operand and no default is declared for it.
type MissingOperandError struct {
	Op    string
	Param string
}

func (e *MissingOperandError) Error() string {
	return fmt.Sprintf("%s: missing required operand %q", e.Op, e.Param)
}

// ColumnNotFoundError occurs when an operation references a column that is
// absent from its input schema. It is raised at metadata-inference time,
// before any partition is materialized.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found (available: %s)",
		e.Column, strings.Join(e.Available, ", "))
}

// LengthMismatchError occurs when two columns of different lengths are
// combined in a single frame or element-wise operation.
type LengthMismatchError struct {
	Left, Right int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: %d vs %d", e.Left, e.Right)
}

// TypeMismatchError occurs when an element-wise kernel receives operand
// types it cannot combine.
type TypeMismatchError struct {
	Op          string
	Left, Right string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("unsupported operand types for %s: %s and %s", e.Op, e.Left, e.Right)
}

// DivisionMismatchError occurs when an element-wise operation combines
// inputs whose partition boundaries disagree.
type DivisionMismatchError struct {
	Op string
}

func (e *DivisionMismatchError) Error() string {
	return fmt.Sprintf("%s: element-wise operands have mismatched divisions; repartition first", e.Op)
}

// NonMonotonicDivisionsError occurs when a set of known divisions is not
// non-decreasing. Known-but-wrong divisions are a correctness hazard, so
// this is always fatal.
type NonMonotonicDivisionsError struct {
	Index int
}

func (e *NonMonotonicDivisionsError) Error() string {
	return fmt.Sprintf("divisions are not non-decreasing at boundary %d", e.Index)
}

// MissingKeyError occurs when a task references a key that is absent from
// the materialized graph.
type MissingKeyError struct {
	Key Key
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("task graph has no entry for key %v", e.Key)
}

// TaskError wraps a failure from a single task, identified by its key.
type TaskError struct {
	Key Key
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s[%d]: %v", e.Key.Name, e.Key.Part, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
