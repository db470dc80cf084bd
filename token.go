package armada

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	xxhash "github.com/cespare/xxhash/v2"
)

// tokenize produces a deterministic hash of an operand sequence. Two
// operators of the same kind built from equal operand sequences hash to the
// same token; changing any single operand changes it. Child expressions
// contribute their own content-addressed names, so a node's token covers
// its entire subtree.
func tokenize(operands ...any) string {
	h := xxhash.New()
	for _, op := range operands {
		writeToken(h, op)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeToken(h *xxhash.Digest, v any) {
	switch v := v.(type) {
	case nil:
		h.WriteString("nil;")
	case bool:
		h.WriteString("b:")
		h.WriteString(strconv.FormatBool(v))
		h.WriteString(";")
	case int:
		writeToken(h, int64(v))
	case int32:
		writeToken(h, int64(v))
	case int64:
		h.WriteString("i:")
		h.WriteString(strconv.FormatInt(v, 10))
		h.WriteString(";")
	case float32:
		writeToken(h, float64(v))
	case float64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.WriteString("f:")
		h.Write(buf[:])
		h.WriteString(";")
	case string:
		h.WriteString("s:")
		h.WriteString(v)
		h.WriteString(";")
	case DType:
		h.WriteString("d:")
		h.WriteString(v.String())
		h.WriteString(";")
	case []string:
		h.WriteString("ls[")
		for _, s := range v {
			writeToken(h, s)
		}
		h.WriteString("];")
	case []int:
		h.WriteString("li[")
		for _, i := range v {
			writeToken(h, int64(i))
		}
		h.WriteString("];")
	case []any:
		h.WriteString("la[")
		for _, e := range v {
			writeToken(h, e)
		}
		h.WriteString("];")
	case Divisions:
		h.WriteString("dv[")
		for _, e := range v {
			writeToken(h, e)
		}
		h.WriteString("];")
	case map[string]DType:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.WriteString("m[")
		for _, k := range keys {
			writeToken(h, k)
			writeToken(h, v[k])
		}
		h.WriteString("];")
	case Predicate:
		h.WriteString("p(")
		writeToken(h, v.Column)
		writeToken(h, v.Op)
		writeToken(h, v.Value)
		h.WriteString(");")
	case []Predicate:
		h.WriteString("lp[")
		for _, p := range v {
			writeToken(h, p)
		}
		h.WriteString("];")
	case []Expr:
		h.WriteString("le[")
		for _, e := range v {
			h.WriteString(e.Name())
			h.WriteString(";")
		}
		h.WriteString("];")
	case Expr:
		h.WriteString("e:")
		h.WriteString(v.Name())
		h.WriteString(";")
	case *Column:
		writeColumnToken(h, v)
	case *Frame:
		h.WriteString("fr[")
		if v.index != nil {
			h.WriteString("ix:")
			h.WriteString(v.indexName)
			writeColumnToken(h, v.index)
		}
		for _, c := range v.cols {
			writeColumnToken(h, c)
		}
		h.WriteString("];")
	default:
		// Opaque operands (e.g. user functions carried by Apply) contribute
		// only their dynamic type; identity for those nodes comes from an
		// explicit label operand.
		fmt.Fprintf(h, "o:%T;", v)
	}
}

func writeColumnToken(h *xxhash.Digest, c *Column) {
	if c == nil {
		h.WriteString("c:nil;")
		return
	}
	h.WriteString("c:")
	h.WriteString(c.name)
	h.WriteString(":")
	h.WriteString(c.dtype.String())
	h.WriteString(":")
	switch c.dtype {
	case Float64:
		for _, v := range c.f64 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	case Int64:
		for _, v := range c.i64 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
	case Bool:
		for _, v := range c.b {
			if v {
				h.WriteString("t")
			} else {
				h.WriteString("f")
			}
		}
	case String:
		for _, v := range c.str {
			h.WriteString(strconv.Itoa(len(v)))
			h.WriteString(":")
			h.WriteString(v)
		}
	}
	h.WriteString(";")
}
