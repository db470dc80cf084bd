package armada

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

// writeTestArrow writes an IPC file of two record batches: ids 1-4 and 5-8,
// with val = id*1.5.
func writeTestArrow(t *testing.T) string {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "val", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	path := filepath.Join(t.TempDir(), "rows.arrow")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	require.NoError(t, err)

	pool := memory.NewGoAllocator()
	for batch := 0; batch < 2; batch++ {
		b := array.NewRecordBuilder(pool, schema)
		for i := 0; i < 4; i++ {
			id := int64(batch*4 + i + 1)
			b.Field(0).(*array.Int64Builder).Append(id)
			b.Field(1).(*array.Float64Builder).Append(float64(id) * 1.5)
		}
		rec := b.NewRecord()
		require.NoError(t, w.Write(rec))
		rec.Release()
		b.Release()
	}
	require.NoError(t, w.Close())
	return path
}

func TestFromArrowFilePartitionPerBatch(t *testing.T) {
	fa := NewFromArrowFile(writeTestArrow(t))
	require.Equal(t, 2, fa.NPartitions())

	m, err := fa.Meta()
	require.NoError(t, err)
	require.Equal(t, KindFrame, m.Kind)
	require.Equal(t, []string{"id", "val"}, m.Columns())

	divs, err := fa.Divisions()
	require.NoError(t, err)
	require.False(t, divs.Known())
}

func TestFromArrowFileComputes(t *testing.T) {
	fa := NewFromArrowFile(writeTestArrow(t))

	got := computeFrame(t, fa)
	require.Equal(t, 8, got.NumRows())
	id, err := got.Column("id")
	require.NoError(t, err)
	require.Equal(t, int64(1), id.At(0))
	require.Equal(t, int64(8), id.At(7))
	val, err := got.Column("val")
	require.NoError(t, err)
	require.Equal(t, float64(12), val.At(7))
}

func TestFromArrowFileProjectionPushdown(t *testing.T) {
	fa := NewFromArrowFile(writeTestArrow(t))
	s := Simplify(NewProjection(fa, "val"))

	leaf, ok := s.(*fromArrowFile)
	require.True(t, ok, "the selection should be absorbed by the read, got %s", s)
	require.Equal(t, "val", leaf.columns())

	got := computeColumn(t, s)
	require.Equal(t, 8, got.Len())
	require.Equal(t, float64(1.5), got.At(0))
}

func TestFromArrowFilePartitionSubset(t *testing.T) {
	fa := NewFromArrowFile(writeTestArrow(t))
	s := Simplify(NewPartitions(fa, []int{1}))

	leaf, ok := s.(*fromArrowFile)
	require.True(t, ok)
	require.Equal(t, 1, leaf.NPartitions())

	got := computeFrame(t, s)
	require.Equal(t, 4, got.NumRows())
	id, err := got.Column("id")
	require.NoError(t, err)
	require.Equal(t, int64(5), id.At(0))
}

func TestFromArrowFileMissingPath(t *testing.T) {
	fa := NewFromArrowFile(filepath.Join(t.TempDir(), "absent.arrow"))
	_, err := fa.Meta()
	require.Error(t, err)
	require.Equal(t, 1, fa.NPartitions())
}
