package armada

import (
	"fmt"
	"sort"
)

// Column is a single named, typed column of values. It is the unit the
// per-partition compute kernels operate on.
type Column struct {
	name  string
	dtype DType
	f64   []float64
	i64   []int64
	b     []bool
	str   []string
}

// NewColumnF64 creates a float64 column.
func NewColumnF64(name string, data []float64) *Column {
	return &Column{name: name, dtype: Float64, f64: data}
}

// NewColumnI64 creates an int64 column.
func NewColumnI64(name string, data []int64) *Column {
	return &Column{name: name, dtype: Int64, i64: data}
}

// NewColumnBool creates a boolean column.
func NewColumnBool(name string, data []bool) *Column {
	return &Column{name: name, dtype: Bool, b: data}
}

// NewColumnStr creates a string column.
func NewColumnStr(name string, data []string) *Column {
	return &Column{name: name, dtype: String, str: data}
}

// emptyColumn creates a zero-length column of the given dtype.
func emptyColumn(name string, dtype DType) *Column {
	return &Column{name: name, dtype: dtype}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// DType returns the column dtype.
func (c *Column) DType() DType { return c.dtype }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.dtype {
	case Float64:
		return len(c.f64)
	case Int64:
		return len(c.i64)
	case Bool:
		return len(c.b)
	default:
		return len(c.str)
	}
}

// Rename returns a column with the same values under a new name.
func (c *Column) Rename(name string) *Column {
	out := *c
	out.name = name
	return &out
}

// At returns the value at index i as a scalar.
func (c *Column) At(i int) any {
	switch c.dtype {
	case Float64:
		return c.f64[i]
	case Int64:
		return c.i64[i]
	case Bool:
		return c.b[i]
	default:
		return c.str[i]
	}
}

// Slice returns values in [start, end).
func (c *Column) Slice(start, end int) *Column {
	out := &Column{name: c.name, dtype: c.dtype}
	switch c.dtype {
	case Float64:
		out.f64 = c.f64[start:end]
	case Int64:
		out.i64 = c.i64[start:end]
	case Bool:
		out.b = c.b[start:end]
	default:
		out.str = c.str[start:end]
	}
	return out
}

// Head returns the first n values (fewer if the column is shorter).
func (c *Column) Head(n int) *Column {
	if n > c.Len() {
		n = c.Len()
	}
	return c.Slice(0, n)
}

// Gather returns the values at the given row indices, in order.
func (c *Column) Gather(indices []int) *Column {
	out := &Column{name: c.name, dtype: c.dtype}
	switch c.dtype {
	case Float64:
		out.f64 = make([]float64, len(indices))
		for i, ix := range indices {
			out.f64[i] = c.f64[ix]
		}
	case Int64:
		out.i64 = make([]int64, len(indices))
		for i, ix := range indices {
			out.i64[i] = c.i64[ix]
		}
	case Bool:
		out.b = make([]bool, len(indices))
		for i, ix := range indices {
			out.b[i] = c.b[ix]
		}
	default:
		out.str = make([]string, len(indices))
		for i, ix := range indices {
			out.str[i] = c.str[ix]
		}
	}
	return out
}

// FilterMask returns the values where mask is true.
func (c *Column) FilterMask(mask *Column) (*Column, error) {
	if mask.dtype != Bool {
		return nil, &TypeMismatchError{Op: "filter", Left: c.dtype.String(), Right: mask.dtype.String()}
	}
	if mask.Len() != c.Len() {
		return nil, &LengthMismatchError{Left: c.Len(), Right: mask.Len()}
	}
	indices := make([]int, 0, len(mask.b))
	for i, keep := range mask.b {
		if keep {
			indices = append(indices, i)
		}
	}
	return c.Gather(indices), nil
}

// Argsort returns row indices that order the column ascending. The sort is
// stable so duplicate keys keep their relative order.
func (c *Column) Argsort() []int {
	indices := make([]int, c.Len())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		cmp, _ := compareValues(c.At(indices[a]), c.At(indices[b]))
		return cmp < 0
	})
	return indices
}

// CastTo converts the column to another dtype.
func (c *Column) CastTo(dtype DType) (*Column, error) {
	if dtype == c.dtype {
		return c, nil
	}
	out := &Column{name: c.name, dtype: dtype}
	n := c.Len()
	switch {
	case c.dtype == Int64 && dtype == Float64:
		out.f64 = make([]float64, n)
		for i, v := range c.i64 {
			out.f64[i] = float64(v)
		}
	case c.dtype == Float64 && dtype == Int64:
		out.i64 = make([]int64, n)
		for i, v := range c.f64 {
			out.i64[i] = int64(v)
		}
	case c.dtype == Bool && dtype == Int64:
		out.i64 = make([]int64, n)
		for i, v := range c.b {
			if v {
				out.i64[i] = 1
			}
		}
	case dtype == String:
		out.str = make([]string, n)
		for i := 0; i < n; i++ {
			out.str[i] = fmt.Sprintf("%v", c.At(i))
		}
	default:
		return nil, &TypeMismatchError{Op: "astype", Left: c.dtype.String(), Right: dtype.String()}
	}
	return out, nil
}

// Unique returns the distinct values in first-seen order.
func (c *Column) Unique() *Column {
	out := &Column{name: c.name, dtype: c.dtype}
	seen := make(map[any]struct{}, c.Len())
	for i := 0; i < c.Len(); i++ {
		v := c.At(i)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out.appendValue(v)
	}
	return out
}

// SumValue returns the sum of a numeric column as a scalar.
func (c *Column) SumValue() (any, error) {
	switch c.dtype {
	case Float64:
		var s float64
		for _, v := range c.f64 {
			s += v
		}
		return s, nil
	case Int64:
		var s int64
		for _, v := range c.i64 {
			s += v
		}
		return s, nil
	default:
		return nil, &TypeMismatchError{Op: "sum", Left: c.dtype.String(), Right: c.dtype.String()}
	}
}

// MinValue returns the smallest value, or nil for an empty column.
func (c *Column) MinValue() any { return c.extremum(-1) }

// MaxValue returns the largest value, or nil for an empty column.
func (c *Column) MaxValue() any { return c.extremum(1) }

func (c *Column) extremum(sign int) any {
	if c.Len() == 0 {
		return nil
	}
	best := c.At(0)
	for i := 1; i < c.Len(); i++ {
		v := c.At(i)
		cmp, err := compareValues(v, best)
		if err != nil {
			continue
		}
		if cmp*sign > 0 {
			best = v
		}
	}
	return best
}

// CountValue returns the number of values as an int64.
func (c *Column) CountValue() int64 { return int64(c.Len()) }

// ConcatColumns concatenates columns of matching dtype.
func ConcatColumns(cols []*Column) (*Column, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("concat: no columns")
	}
	out := &Column{name: cols[0].name, dtype: cols[0].dtype}
	for _, c := range cols {
		if c.dtype != out.dtype {
			return nil, &TypeMismatchError{Op: "concat", Left: out.dtype.String(), Right: c.dtype.String()}
		}
		switch out.dtype {
		case Float64:
			out.f64 = append(out.f64, c.f64...)
		case Int64:
			out.i64 = append(out.i64, c.i64...)
		case Bool:
			out.b = append(out.b, c.b...)
		default:
			out.str = append(out.str, c.str...)
		}
	}
	return out, nil
}

func (c *Column) appendValue(v any) {
	switch c.dtype {
	case Float64:
		c.f64 = append(c.f64, toF64(v))
	case Int64:
		if i, ok := v.(int64); ok {
			c.i64 = append(c.i64, i)
		} else {
			c.i64 = append(c.i64, int64(toF64(v)))
		}
	case Bool:
		b, _ := v.(bool)
		c.b = append(c.b, b)
	default:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		c.str = append(c.str, s)
	}
}

func toF64(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
