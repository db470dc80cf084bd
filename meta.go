package armada

import "fmt"

// MetaKind classifies the shape of the value an expression produces per
// partition.
type MetaKind uint8

const (
	// KindScalar is a single value with no rows.
	KindScalar MetaKind = iota
	// KindColumn is a one-dimensional column of values.
	KindColumn
	// KindFrame is a two-dimensional table.
	KindFrame
)

// Meta is the zero-row schema of an expression: shape, column names, and
// dtypes, without any data.
type Meta struct {
	Kind   MetaKind
	Frame  *Frame  // zero rows, set when Kind == KindFrame
	Column *Column // zero length, set when Kind == KindColumn
	Dtype  DType   // element dtype for columns and scalars
}

// NDim returns the dimensionality of the shape.
func (m *Meta) NDim() int {
	switch m.Kind {
	case KindFrame:
		return 2
	case KindColumn:
		return 1
	default:
		return 0
	}
}

// Columns returns the value column names for frame-shaped metadata.
func (m *Meta) Columns() []string {
	if m.Kind != KindFrame {
		return nil
	}
	return m.Frame.Columns()
}

// Value returns the zero-row stand-in used when replaying a partition kernel
// over schemas.
func (m *Meta) Value() any {
	switch m.Kind {
	case KindFrame:
		return m.Frame
	case KindColumn:
		return m.Column
	default:
		return zeroScalar(m.Dtype)
	}
}

func (m *Meta) String() string {
	switch m.Kind {
	case KindFrame:
		return fmt.Sprintf("frame%v", m.Frame.Columns())
	case KindColumn:
		return fmt.Sprintf("column[%s %s]", m.Column.Name(), m.Dtype)
	default:
		return fmt.Sprintf("scalar[%s]", m.Dtype)
	}
}

func zeroScalar(dt DType) any {
	switch dt {
	case Float64:
		return float64(0)
	case Int64:
		return int64(0)
	case Bool:
		return false
	default:
		return ""
	}
}

// metaForFrame wraps a frame schema.
func metaForFrame(f *Frame) *Meta {
	return &Meta{Kind: KindFrame, Frame: f.ZeroRows()}
}

// metaForColumn wraps a column schema.
func metaForColumn(c *Column) *Meta {
	return &Meta{Kind: KindColumn, Column: emptyColumn(c.Name(), c.DType()), Dtype: c.DType()}
}

// metaForScalar wraps a scalar dtype.
func metaForScalar(dt DType) *Meta {
	return &Meta{Kind: KindScalar, Dtype: dt}
}

// metaFromValue derives metadata from a concrete kernel result.
func metaFromValue(v any) (*Meta, error) {
	switch v := v.(type) {
	case *Frame:
		return metaForFrame(v), nil
	case *Column:
		return metaForColumn(v), nil
	default:
		dt, ok := dtypeOf(v)
		if !ok {
			return nil, fmt.Errorf("unsupported value type %T", v)
		}
		return metaForScalar(dt), nil
	}
}
