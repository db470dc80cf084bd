package armada

import "fmt"

// DType represents the data type of a Column.
type DType uint8

const (
	Float64 DType = iota
	Int64
	Bool
	String
)

// String returns the string representation of the DType.
func (d DType) String() string {
	switch d {
	case Float64:
		return "Float64"
	case Int64:
		return "Int64"
	case Bool:
		return "Bool"
	case String:
		return "String"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// IsNumeric returns true if the dtype is a numeric type.
func (d DType) IsNumeric() bool {
	return d == Float64 || d == Int64
}

// dtypeOf reports the dtype a scalar value maps to.
func dtypeOf(v any) (DType, bool) {
	switch v.(type) {
	case float64, float32:
		return Float64, true
	case int, int32, int64:
		return Int64, true
	case bool:
		return Bool, true
	case string:
		return String, true
	default:
		return 0, false
	}
}

// normalizeScalar widens native Go scalars to the canonical kernel types
// (int64, float64, bool, string).
func normalizeScalar(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}
