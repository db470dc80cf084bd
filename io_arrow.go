package armada

import (
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// arrowSource memoizes the footer scan of one Arrow IPC file: record batch
// count and schema. Row data is only read inside partition tasks.
type arrowSource struct {
	path string

	once    sync.Once
	err     error
	records int
	columns []string
	dtypes  map[string]DType
}

func (s *arrowSource) scan() error {
	s.once.Do(func() {
		f, err := os.Open(s.path)
		if err != nil {
			s.err = err
			return
		}
		defer f.Close()
		r, err := ipc.NewFileReader(f)
		if err != nil {
			s.err = fmt.Errorf("open arrow %s: %w", s.path, err)
			return
		}
		defer r.Close()
		s.records = r.NumRecords()
		s.dtypes = make(map[string]DType)
		for _, field := range r.Schema().Fields() {
			dt, err := arrowTypeToDType(field.Type)
			if err != nil {
				s.err = fmt.Errorf("column %s: %w", field.Name, err)
				return
			}
			s.columns = append(s.columns, field.Name)
			s.dtypes[field.Name] = dt
		}
	})
	return s.err
}

func arrowTypeToDType(t arrow.DataType) (DType, error) {
	switch t.ID() {
	case arrow.FLOAT64, arrow.FLOAT32:
		return Float64, nil
	case arrow.INT64, arrow.INT32:
		return Int64, nil
	case arrow.BOOL:
		return Bool, nil
	case arrow.STRING:
		return String, nil
	}
	return 0, fmt.Errorf("unsupported arrow type %s", t.Name())
}

// fromArrowFile is the leaf over an Arrow IPC file, one partition per
// record batch. Batch order carries no index statistics, so divisions stay
// unknown.
type fromArrowFile struct {
	node
	src *arrowSource
}

// NewFromArrowFile reads an Arrow IPC file as a partitioned leaf.
func NewFromArrowFile(path string) Expr {
	return rebuildFromArrowFile(&arrowSource{path: path}, path, nil, nil)
}

func rebuildFromArrowFile(src *arrowSource, path string, columns any, partitions []int) Expr {
	return &fromArrowFile{
		node: newNode("fromarrow", []string{"path", "columns", "partitions"},
			[]any{path, columns, partitions}),
		src: src,
	}
}

func (fa *fromArrowFile) rebuild(operands []any) Expr {
	partitions, _ := operands[2].([]int)
	return rebuildFromArrowFile(fa.src, operands[0].(string), operands[1], partitions)
}

func (fa *fromArrowFile) columns() any  { return fa.operands[1] }
func (fa *fromArrowFile) fusable() bool { return false }

func (fa *fromArrowFile) partitionSubset() []int {
	p, _ := fa.operands[2].([]int)
	return p
}

func (fa *fromArrowFile) Meta() (*Meta, error) {
	return fa.memoMeta(func() (*Meta, error) {
		if err := fa.src.scan(); err != nil {
			return nil, err
		}
		cols := make([]*Column, len(fa.src.columns))
		for i, name := range fa.src.columns {
			cols[i] = emptyColumn(name, fa.src.dtypes[name])
		}
		zero, err := NewFrame(cols...)
		if err != nil {
			return nil, err
		}
		out, err := selectOutput(zero, fa.columns())
		if err != nil {
			return nil, err
		}
		return metaFromValue(out)
	})
}

func (fa *fromArrowFile) Divisions() (Divisions, error) { return nil, nil }

func (fa *fromArrowFile) NPartitions() int {
	if err := fa.src.scan(); err != nil {
		return 1
	}
	return len(allPartitions(fa.partitionSubset(), fa.src.records))
}

func (fa *fromArrowFile) layer(g *Graph) error {
	if err := fa.src.scan(); err != nil {
		return err
	}
	parts := allPartitions(fa.partitionSubset(), fa.src.records)
	path, columns := fa.src.path, fa.columns()
	for k, record := range parts {
		record := record
		fn := func(args []any) (any, error) {
			f, err := readArrowRecord(path, record)
			if err != nil {
				return nil, err
			}
			return selectOutput(f, columns)
		}
		g.AddTask(Key{Name: fa.Name(), Part: k}, Task{Fn: fn})
	}
	return nil
}

func (fa *fromArrowFile) combineToken() string {
	return "fromarrow-" + tokenize(fa.operands[0], fa.operands[2])
}

func (fa *fromArrowFile) leafColumns() any { return fa.columns() }

func (fa *fromArrowFile) withColumns(columns any) Expr {
	return substituteParameters(fa, map[string]any{"columns": columns})
}

func (fa *fromArrowFile) simplifyUp(parent Expr) Expr {
	switch p := parent.(type) {
	case *projection:
		if _, series := fa.columns().(string); series {
			return nil
		}
		return substituteParameters(fa, map[string]any{"columns": p.columns()})
	case *partitionsNode:
		composed, ok := composePartitions(fa.partitionSubset(), fa.NPartitions(), p.indices())
		if !ok {
			return nil
		}
		return substituteParameters(fa, map[string]any{"partitions": composed})
	}
	return nil
}

// readArrowRecord reads the i-th record batch of an IPC file into a frame.
func readArrowRecord(path string, i int) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := ipc.NewFileReader(f)
	if err != nil {
		return nil, fmt.Errorf("open arrow %s: %w", path, err)
	}
	defer r.Close()
	rec, err := r.RecordAt(i)
	if err != nil {
		return nil, fmt.Errorf("record %d of %s: %w", i, path, err)
	}
	defer rec.Release()

	cols := make([]*Column, rec.NumCols())
	for c := 0; c < int(rec.NumCols()); c++ {
		col, err := arrowArrayToColumn(rec.ColumnName(c), rec.Column(c))
		if err != nil {
			return nil, err
		}
		cols[c] = col
	}
	return NewFrame(cols...)
}

func arrowArrayToColumn(name string, arr arrow.Array) (*Column, error) {
	switch a := arr.(type) {
	case *array.Float64:
		data := make([]float64, a.Len())
		copy(data, a.Float64Values())
		return NewColumnF64(name, data), nil
	case *array.Float32:
		data := make([]float64, a.Len())
		for i, v := range a.Float32Values() {
			data[i] = float64(v)
		}
		return NewColumnF64(name, data), nil
	case *array.Int64:
		data := make([]int64, a.Len())
		copy(data, a.Int64Values())
		return NewColumnI64(name, data), nil
	case *array.Int32:
		data := make([]int64, a.Len())
		for i, v := range a.Int32Values() {
			data[i] = int64(v)
		}
		return NewColumnI64(name, data), nil
	case *array.Boolean:
		data := make([]bool, a.Len())
		for i := range data {
			data[i] = a.Value(i)
		}
		return NewColumnBool(name, data), nil
	case *array.String:
		data := make([]string, a.Len())
		for i := range data {
			data[i] = a.Value(i)
		}
		return NewColumnStr(name, data), nil
	}
	return nil, fmt.Errorf("unsupported arrow array %T", arr)
}
