package armada

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

// parquetFragment is one addressable unit of source work: a single row
// group of a single file, with its statistics.
type parquetFragment struct {
	path     string
	rowGroup int
	numRows  int64
	mins     map[string]any
	maxs     map[string]any
}

// parquetPlan is the scanned layout of a source: its column manifest and
// fragment enumeration. Scanning touches footers only, never row data.
type parquetPlan struct {
	columns   []string
	dtypes    map[string]DType
	fragments []parquetFragment
}

// parquetSource owns the scan-plan cache for one logical source. The cache
// lives on the wrapper, so dropping the expression drops the cache.
type parquetSource struct {
	path  string
	cache *lru.Cache[string, *parquetPlan]
}

func newParquetSource(path string) *parquetSource {
	cache, _ := lru.New[string, *parquetPlan](64)
	return &parquetSource{path: path, cache: cache}
}

func (s *parquetSource) plan() (*parquetPlan, error) {
	if p, ok := s.cache.Get(s.path); ok {
		return p, nil
	}
	p, err := scanParquet(s.path)
	if err != nil {
		return nil, err
	}
	s.cache.Add(s.path, p)
	return p, nil
}

// scanParquet enumerates the files of a source (a single file, or every
// *.parquet under a directory in name order) and collects per-row-group
// column statistics from the footers.
func scanParquet(path string) (*parquetPlan, error) {
	files, err := sourceFiles(path)
	if err != nil {
		return nil, err
	}
	plan := &parquetPlan{dtypes: make(map[string]DType)}
	for _, file := range files {
		if err := scanParquetFile(file, plan); err != nil {
			return nil, err
		}
	}
	logger.Debug("parquet scan",
		zap.String("path", path),
		zap.Int("files", len(files)),
		zap.Int("fragments", len(plan.fragments)))
	return plan, nil
}

func sourceFiles(path string) ([]string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.parquet"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files under %s", path)
	}
	sort.Strings(files)
	return files, nil
}

func scanParquetFile(path string, plan *parquetPlan) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return fmt.Errorf("open parquet %s: %w", path, err)
	}

	schema := pf.Schema()
	var names []string
	leafIndex := make(map[string]int)
	for i, col := range schema.Columns() {
		if len(col) > 0 {
			leafIndex[col[0]] = i
		}
	}
	for _, field := range schema.Fields() {
		name := field.Name()
		names = append(names, name)
		dt := parquetKindToDType(field.Type().Kind())
		if prev, ok := plan.dtypes[name]; ok && prev != dt {
			return &TypeMismatchError{Op: "read_parquet", Left: prev.String(), Right: dt.String()}
		}
		plan.dtypes[name] = dt
	}
	if plan.columns == nil {
		plan.columns = names
	}

	for rgIdx, rg := range pf.RowGroups() {
		frag := parquetFragment{
			path:     path,
			rowGroup: rgIdx,
			numRows:  rg.NumRows(),
			mins:     make(map[string]any),
			maxs:     make(map[string]any),
		}
		chunks := rg.ColumnChunks()
		for name, leaf := range leafIndex {
			if leaf >= len(chunks) {
				continue
			}
			ci, err := chunks[leaf].ColumnIndex()
			if err != nil || ci == nil {
				continue
			}
			min, max := foldColumnIndex(ci)
			if min != nil {
				frag.mins[name] = min
				frag.maxs[name] = max
			}
		}
		plan.fragments = append(plan.fragments, frag)
	}
	return nil
}

// foldColumnIndex reduces per-page statistics to one min/max pair.
func foldColumnIndex(ci parquet.ColumnIndex) (any, any) {
	var min, max any
	for page := 0; page < ci.NumPages(); page++ {
		if ci.NullPage(page) {
			continue
		}
		lo := parquetScalar(ci.MinValue(page))
		hi := parquetScalar(ci.MaxValue(page))
		if lo == nil || hi == nil {
			continue
		}
		if min == nil {
			min, max = lo, hi
			continue
		}
		if c, err := compareValues(lo, min); err == nil && c < 0 {
			min = lo
		}
		if c, err := compareValues(hi, max); err == nil && c > 0 {
			max = hi
		}
	}
	return min, max
}

func parquetKindToDType(kind parquet.Kind) DType {
	switch kind {
	case parquet.Boolean:
		return Bool
	case parquet.Int32, parquet.Int64:
		return Int64
	case parquet.Float, parquet.Double:
		return Float64
	default:
		return String
	}
}

func parquetScalar(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	}
	return nil
}

// fragmentDivisions infers divisions from index statistics: when fragment
// ranges are sorted and non-overlapping, the division values are each
// fragment's minimum plus the final maximum.
func fragmentDivisions(frags []parquetFragment, index string) Divisions {
	if index == "" || len(frags) == 0 {
		return nil
	}
	divs := make(Divisions, 0, len(frags)+1)
	for i, frag := range frags {
		min, ok := frag.mins[index]
		if !ok {
			return nil
		}
		max := frag.maxs[index]
		if i > 0 {
			prev := frags[i-1].maxs[index]
			if c, err := compareValues(prev, min); err != nil || c > 0 {
				return nil
			}
		}
		divs = append(divs, min)
		if i == len(frags)-1 {
			divs = append(divs, max)
		}
	}
	if divs.Validate() != nil {
		return nil
	}
	return divs
}

// ReadParquetOption configures NewReadParquet.
type ReadParquetOption func(*readParquetConfig)

type readParquetConfig struct {
	index string
}

// WithIndex uses the named column as the collection index, enabling
// division inference from its statistics.
func WithIndex(column string) ReadParquetOption {
	return func(c *readParquetConfig) { c.index = column }
}

// readParquet is the leaf over a parquet source. Columns, predicates and
// partition subsets pushed into it narrow what the tasks read.
type readParquet struct {
	node
	src *parquetSource
}

// NewReadParquet reads a parquet file, or every parquet file under a
// directory, as a partitioned leaf with one partition per row group.
func NewReadParquet(path string, opts ...ReadParquetOption) Expr {
	cfg := readParquetConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return rebuildReadParquet(newParquetSource(path), path, nil, nil, cfg.index, nil)
}

func rebuildReadParquet(src *parquetSource, path string, columns any, filters []Predicate, index string, partitions []int) Expr {
	return &readParquet{
		node: newNode("readparquet",
			[]string{"path", "columns", "filters", "index", "partitions"},
			[]any{path, columns, filters, index, partitions}),
		src: src,
	}
}

func (rp *readParquet) rebuild(operands []any) Expr {
	filters, _ := operands[2].([]Predicate)
	partitions, _ := operands[4].([]int)
	return rebuildReadParquet(rp.src, operands[0].(string), operands[1], filters, operands[3].(string), partitions)
}

func (rp *readParquet) path() string  { return rp.operands[0].(string) }
func (rp *readParquet) columns() any  { return rp.operands[1] }
func (rp *readParquet) index() string { return rp.operands[3].(string) }
func (rp *readParquet) fusable() bool { return false }

func (rp *readParquet) filters() []Predicate {
	f, _ := rp.operands[2].([]Predicate)
	return f
}

func (rp *readParquet) partitionSubset() []int {
	p, _ := rp.operands[4].([]int)
	return p
}

// selectedFragments applies predicate pruning, then the explicit partition
// subset, to the source's fragment enumeration.
func (rp *readParquet) selectedFragments() ([]parquetFragment, error) {
	plan, err := rp.src.plan()
	if err != nil {
		return nil, err
	}
	pruned := make([]parquetFragment, 0, len(plan.fragments))
	for _, frag := range plan.fragments {
		keep := true
		for _, pred := range rp.filters() {
			if !pred.canSatisfy(frag.mins[pred.Column], frag.maxs[pred.Column]) {
				keep = false
				break
			}
		}
		if keep {
			pruned = append(pruned, frag)
		}
	}
	if dropped := len(plan.fragments) - len(pruned); dropped > 0 {
		logger.Debug("parquet fragments pruned",
			zap.String("path", rp.path()), zap.Int("dropped", dropped))
	}
	subset := rp.partitionSubset()
	if subset == nil {
		return pruned, nil
	}
	out := make([]parquetFragment, len(subset))
	for i, ix := range subset {
		if ix < 0 || ix >= len(pruned) {
			return nil, fmt.Errorf("read_parquet: partition %d out of range (%d fragments)", ix, len(pruned))
		}
		out[i] = pruned[ix]
	}
	return out, nil
}

func (rp *readParquet) Meta() (*Meta, error) {
	return rp.memoMeta(func() (*Meta, error) {
		plan, err := rp.src.plan()
		if err != nil {
			return nil, err
		}
		var cols []*Column
		for _, name := range plan.columns {
			if name == rp.index() {
				continue
			}
			cols = append(cols, emptyColumn(name, plan.dtypes[name]))
		}
		zero, err := NewFrame(cols...)
		if err != nil {
			return nil, err
		}
		if idx := rp.index(); idx != "" {
			dt, ok := plan.dtypes[idx]
			if !ok {
				return nil, &ColumnNotFoundError{Column: idx, Available: plan.columns}
			}
			zero = &Frame{indexName: idx, index: emptyColumn(idx, dt), cols: zero.cols}
		}
		out, err := selectOutput(zero, rp.columns())
		if err != nil {
			return nil, err
		}
		return metaFromValue(out)
	})
}

func (rp *readParquet) Divisions() (Divisions, error) {
	return rp.memoDivisions(func() (Divisions, error) {
		frags, err := rp.selectedFragments()
		if err != nil {
			return nil, err
		}
		return fragmentDivisions(frags, rp.index()), nil
	})
}

func (rp *readParquet) NPartitions() int {
	frags, err := rp.selectedFragments()
	if err != nil {
		return 1
	}
	return len(frags)
}

// sourceToken identifies the leaf's source state ignoring the column
// selection, for matching reads that differ only in columns.
func (rp *readParquet) sourceToken() string {
	return tokenize(rp.operands[0], rp.operands[2], rp.operands[3], rp.operands[4])
}

func (rp *readParquet) layer(g *Graph) error {
	frags, err := rp.selectedFragments()
	if err != nil {
		return err
	}
	plan, err := rp.src.plan()
	if err != nil {
		return err
	}
	read := rp.readColumns(plan)
	index, filters, columns := rp.index(), rp.filters(), rp.columns()
	for part, frag := range frags {
		frag := frag
		fn := func(args []any) (any, error) {
			f, err := readFragmentFrame(frag, read, plan.dtypes)
			if err != nil {
				return nil, err
			}
			if index != "" {
				if f, err = f.WithIndex(index); err != nil {
					return nil, err
				}
			}
			if f, err = applyPredicates(f, filters); err != nil {
				return nil, err
			}
			return selectOutput(f, columns)
		}
		g.AddTask(Key{Name: rp.Name(), Part: part}, Task{Fn: fn})
	}
	return nil
}

// readColumns is the physical column set a task must read: the projected
// columns plus whatever the index and row-level predicates need.
func (rp *readParquet) readColumns(plan *parquetPlan) []string {
	var want []string
	switch c := rp.columns().(type) {
	case string:
		want = []string{c}
	case []string:
		want = append(want, c...)
	default:
		want = append(want, plan.columns...)
	}
	add := func(name string) {
		if name != "" && !contains(want, name) {
			want = append(want, name)
		}
	}
	add(rp.index())
	for _, p := range rp.filters() {
		add(p.Column)
	}
	ordered := make([]string, 0, len(want))
	for _, name := range plan.columns {
		if contains(want, name) {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

func (rp *readParquet) combineToken() string {
	return "readparquet-" + rp.sourceToken()
}

func (rp *readParquet) leafColumns() any { return rp.columns() }

func (rp *readParquet) withColumns(columns any) Expr {
	return substituteParameters(rp, map[string]any{"columns": columns})
}

func (rp *readParquet) simplifyUp(parent Expr) Expr {
	switch p := parent.(type) {
	case *projection:
		if _, series := rp.columns().(string); series {
			return nil
		}
		return substituteParameters(rp, map[string]any{"columns": p.columns()})
	case *filter:
		if p.frame().Name() != rp.Name() {
			return nil
		}
		pred, ok := rp.extractPredicate(p.predicate())
		if !ok {
			return nil
		}
		filters := append(append([]Predicate(nil), rp.filters()...), pred)
		return substituteParameters(rp, map[string]any{"filters": filters})
	case *partitionsNode:
		composed, ok := composePartitions(rp.partitionSubset(), rp.NPartitions(), p.indices())
		if !ok {
			return nil
		}
		return substituteParameters(rp, map[string]any{"partitions": composed})
	}
	return nil
}

// extractPredicate recognizes a comparison between one of this leaf's
// columns and a plain literal, normalizing the direction so the column is
// always on the left.
func (rp *readParquet) extractPredicate(pred Expr) (Predicate, bool) {
	b, ok := pred.(*binop)
	if !ok || !b.cmp {
		return Predicate{}, false
	}
	if col, ok := rp.columnRef(b.left()); ok {
		if lit, ok := literalScalar(b.right()); ok {
			return Predicate{Column: col, Op: b.sym, Value: lit}, true
		}
	}
	if col, ok := rp.columnRef(b.right()); ok {
		if lit, ok := literalScalar(b.left()); ok {
			return Predicate{Column: col, Op: b.sym, Value: lit}.flip(), true
		}
	}
	return Predicate{}, false
}

// columnRef matches an operand that reads a single column of this same
// source: a column selection over this leaf, or a series read of the same
// source state.
func (rp *readParquet) columnRef(o any) (string, bool) {
	switch v := o.(type) {
	case *projection:
		if v.frame().Name() != rp.Name() {
			return "", false
		}
		col, ok := v.columns().(string)
		return col, ok
	case *readParquet:
		if v.src != rp.src || v.sourceToken() != rp.sourceToken() {
			return "", false
		}
		col, ok := v.columns().(string)
		return col, ok
	}
	return "", false
}

func literalScalar(o any) (any, bool) {
	if _, ok := o.(Expr); ok {
		return nil, false
	}
	if _, ok := dtypeOf(o); !ok {
		return nil, false
	}
	return o, true
}

// readFragmentFrame reads one row group into a frame, restricted to the
// given columns.
func readFragmentFrame(frag parquetFragment, columns []string, dtypes map[string]DType) (*Frame, error) {
	f, err := os.Open(frag.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", frag.path, err)
	}
	if frag.rowGroup >= len(pf.RowGroups()) {
		return nil, fmt.Errorf("row group %d missing from %s", frag.rowGroup, frag.path)
	}

	schema := pf.Schema()
	leafIndex := make(map[string]int)
	for i, col := range schema.Columns() {
		if len(col) > 0 {
			leafIndex[col[0]] = i
		}
	}
	cols := make([]*Column, len(columns))
	leaves := make([]int, len(columns))
	for i, name := range columns {
		leaf, ok := leafIndex[name]
		if !ok {
			return nil, &ColumnNotFoundError{Column: name, Available: columns}
		}
		leaves[i] = leaf
		cols[i] = emptyColumn(name, dtypes[name])
	}

	rg := pf.RowGroups()[frag.rowGroup]
	rows := rg.Rows()
	defer rows.Close()
	buf := make([]parquet.Row, 1024)
	for {
		n, err := rows.ReadRows(buf)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read rows from %s: %w", frag.path, err)
		}
		if n == 0 {
			break
		}
		for _, row := range buf[:n] {
			for i, leaf := range leaves {
				if leaf < len(row) && !row[leaf].IsNull() {
					cols[i].appendValue(parquetScalar(row[leaf]))
				} else {
					cols[i].appendValue(zeroScalar(cols[i].dtype))
				}
			}
		}
		if err == io.EOF {
			break
		}
	}
	return NewFrame(cols...)
}
