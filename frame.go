package armada

import (
	"fmt"
	"sort"
)

// Frame is an in-memory table: an ordered set of named columns plus an
// index column. It is the value flowing between partition tasks.
type Frame struct {
	indexName string
	index     *Column
	cols      []*Column
}

// NewFrame builds a frame from columns. The index defaults to the row
// position until WithIndex replaces it.
func NewFrame(cols ...*Column) (*Frame, error) {
	n := -1
	for _, c := range cols {
		if n == -1 {
			n = c.Len()
		} else if c.Len() != n {
			return nil, &LengthMismatchError{Left: n, Right: c.Len()}
		}
	}
	if n == -1 {
		n = 0
	}
	idx := make([]int64, n)
	for i := range idx {
		idx[i] = int64(i)
	}
	return &Frame{indexName: "", index: NewColumnI64("", idx), cols: cols}, nil
}

// WithIndex returns a frame using the named column as its index. The column
// is removed from the value columns.
func (f *Frame) WithIndex(name string) (*Frame, error) {
	idx, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := &Frame{indexName: name, index: idx}
	for _, c := range f.cols {
		if c.name != name {
			out.cols = append(out.cols, c)
		}
	}
	return out, nil
}

// IndexName returns the name of the index column, empty for a positional index.
func (f *Frame) IndexName() string { return f.indexName }

// Index returns the index column.
func (f *Frame) Index() *Column { return f.index }

// NumRows returns the row count.
func (f *Frame) NumRows() int { return f.index.Len() }

// Columns returns the value column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.name
	}
	return names
}

// Dtypes returns the dtype of each value column.
func (f *Frame) Dtypes() map[string]DType {
	out := make(map[string]DType, len(f.cols))
	for _, c := range f.cols {
		out[c.name] = c.dtype
	}
	return out
}

// Column returns the named value column.
func (f *Frame) Column(name string) (*Column, error) {
	for _, c := range f.cols {
		if c.name == name {
			return c, nil
		}
	}
	return nil, &ColumnNotFoundError{Column: name, Available: f.Columns()}
}

// HasColumn reports whether the named value column exists.
func (f *Frame) HasColumn(name string) bool {
	_, err := f.Column(name)
	return err == nil
}

// Select returns a frame restricted to the named columns, in the given order.
func (f *Frame) Select(names []string) (*Frame, error) {
	out := &Frame{indexName: f.indexName, index: f.index}
	for _, name := range names {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		out.cols = append(out.cols, c)
	}
	return out, nil
}

// Assign returns a frame with the column added, or replaced in place if a
// column of that name already exists.
func (f *Frame) Assign(col *Column) (*Frame, error) {
	if col.Len() != f.NumRows() {
		return nil, &LengthMismatchError{Left: f.NumRows(), Right: col.Len()}
	}
	out := &Frame{indexName: f.indexName, index: f.index}
	replaced := false
	for _, c := range f.cols {
		if c.name == col.name {
			out.cols = append(out.cols, col)
			replaced = true
		} else {
			out.cols = append(out.cols, c)
		}
	}
	if !replaced {
		out.cols = append(out.cols, col)
	}
	return out, nil
}

// FilterMask returns the rows where mask is true.
func (f *Frame) FilterMask(mask *Column) (*Frame, error) {
	idx, err := f.index.FilterMask(mask)
	if err != nil {
		return nil, err
	}
	out := &Frame{indexName: f.indexName, index: idx}
	for _, c := range f.cols {
		fc, err := c.FilterMask(mask)
		if err != nil {
			return nil, err
		}
		out.cols = append(out.cols, fc)
	}
	return out, nil
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n > f.NumRows() {
		n = f.NumRows()
	}
	return f.Slice(0, n)
}

// Slice returns rows in [start, end).
func (f *Frame) Slice(start, end int) *Frame {
	out := &Frame{indexName: f.indexName, index: f.index.Slice(start, end)}
	for _, c := range f.cols {
		out.cols = append(out.cols, c.Slice(start, end))
	}
	return out
}

// Gather returns the rows at the given indices, in order.
func (f *Frame) Gather(indices []int) *Frame {
	out := &Frame{indexName: f.indexName, index: f.index.Gather(indices)}
	for _, c := range f.cols {
		out.cols = append(out.cols, c.Gather(indices))
	}
	return out
}

// SortByIndex returns the frame ordered by its index ascending.
func (f *Frame) SortByIndex() *Frame {
	return f.Gather(f.index.Argsort())
}

// CastColumns returns a frame with the listed columns converted to the
// requested dtypes.
func (f *Frame) CastColumns(dtypes map[string]DType) (*Frame, error) {
	out := &Frame{indexName: f.indexName, index: f.index}
	names := make([]string, 0, len(dtypes))
	for name := range dtypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !f.HasColumn(name) {
			return nil, &ColumnNotFoundError{Column: name, Available: f.Columns()}
		}
	}
	for _, c := range f.cols {
		if dt, ok := dtypes[c.name]; ok {
			cc, err := c.CastTo(dt)
			if err != nil {
				return nil, err
			}
			out.cols = append(out.cols, cc)
		} else {
			out.cols = append(out.cols, c)
		}
	}
	return out, nil
}

// ZeroRows returns an empty frame with the same schema.
func (f *Frame) ZeroRows() *Frame {
	out := &Frame{indexName: f.indexName, index: emptyColumn(f.index.name, f.index.dtype)}
	for _, c := range f.cols {
		out.cols = append(out.cols, emptyColumn(c.name, c.dtype))
	}
	return out
}

// ConcatFrames appends frames row-wise. Schemas must agree.
func ConcatFrames(frames []*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("concat: no frames")
	}
	first := frames[0]
	idxParts := make([]*Column, len(frames))
	for i, fr := range frames {
		if len(fr.cols) != len(first.cols) {
			return nil, &LengthMismatchError{Left: len(first.cols), Right: len(fr.cols)}
		}
		idxParts[i] = fr.index
	}
	idx, err := ConcatColumns(idxParts)
	if err != nil {
		return nil, err
	}
	out := &Frame{indexName: first.indexName, index: idx}
	for ci := range first.cols {
		parts := make([]*Column, len(frames))
		for i, fr := range frames {
			parts[i] = fr.cols[ci]
		}
		c, err := ConcatColumns(parts)
		if err != nil {
			return nil, err
		}
		out.cols = append(out.cols, c)
	}
	return out, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(rows=%d, columns=%v)", f.NumRows(), f.Columns())
}
