package armada

import "fmt"

// compareValues orders two scalar values of the same family. Numeric values
// compare numerically across int64/float64.
func compareValues(a, b any) (int, error) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, &TypeMismatchError{Op: "compare", Left: "string", Right: fmt.Sprintf("%T", b)}
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, &TypeMismatchError{Op: "compare", Left: "bool", Right: fmt.Sprintf("%T", b)}
		}
		switch {
		case !av && bv:
			return -1, nil
		case av && !bv:
			return 1, nil
		}
		return 0, nil
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if !aok || !bok {
		return 0, &TypeMismatchError{Op: "compare", Left: fmt.Sprintf("%T", a), Right: fmt.Sprintf("%T", b)}
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	}
	return 0, nil
}

func numericValue(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func bothInt(a, b any) (int64, int64, bool) {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	return ai, bi, aok && bok
}

// arithScalars applies an arithmetic op to two scalars. Integer operands stay
// integer except for division, which always yields float64.
func arithScalars(op string, a, b any) (any, error) {
	if ai, bi, ok := bothInt(a, b); ok && op != "/" {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		case "*":
			return ai * bi, nil
		}
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if !aok || !bok {
		return nil, &TypeMismatchError{Op: op, Left: fmt.Sprintf("%T", a), Right: fmt.Sprintf("%T", b)}
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		return af / bf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func cmpScalars(op string, a, b any) (any, error) {
	c, err := compareValues(a, b)
	if err != nil {
		return nil, err
	}
	return cmpHolds(op, c), nil
}

func cmpHolds(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "==":
		return c == 0
	case "!=":
		return c != 0
	}
	return false
}

// arithDType gives the dtype of an arithmetic result.
func arithDType(op string, a, b DType) (DType, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return 0, &TypeMismatchError{Op: op, Left: a.String(), Right: b.String()}
	}
	if op == "/" || a == Float64 || b == Float64 {
		return Float64, nil
	}
	return Int64, nil
}

func columnArith(op string, a, b *Column) (*Column, error) {
	if a.Len() != b.Len() {
		return nil, &LengthMismatchError{Left: a.Len(), Right: b.Len()}
	}
	dt, err := arithDType(op, a.dtype, b.dtype)
	if err != nil {
		return nil, err
	}
	out := emptyColumn(a.name, dt)
	for i := 0; i < a.Len(); i++ {
		v, err := arithScalars(op, a.At(i), b.At(i))
		if err != nil {
			return nil, err
		}
		out.appendValue(v)
	}
	return out, nil
}

func columnArithScalar(op string, c *Column, v any, colOnLeft bool) (*Column, error) {
	vdt, ok := dtypeOf(v)
	if !ok {
		return nil, &TypeMismatchError{Op: op, Left: c.dtype.String(), Right: fmt.Sprintf("%T", v)}
	}
	dt, err := arithDType(op, c.dtype, vdt)
	if err != nil {
		return nil, err
	}
	out := emptyColumn(c.name, dt)
	for i := 0; i < c.Len(); i++ {
		var r any
		if colOnLeft {
			r, err = arithScalars(op, c.At(i), v)
		} else {
			r, err = arithScalars(op, v, c.At(i))
		}
		if err != nil {
			return nil, err
		}
		out.appendValue(r)
	}
	return out, nil
}

func columnCompare(op string, a, b *Column) (*Column, error) {
	if a.Len() != b.Len() {
		return nil, &LengthMismatchError{Left: a.Len(), Right: b.Len()}
	}
	out := emptyColumn(a.name, Bool)
	for i := 0; i < a.Len(); i++ {
		c, err := compareValues(a.At(i), b.At(i))
		if err != nil {
			return nil, err
		}
		out.b = append(out.b, cmpHolds(op, c))
	}
	return out, nil
}

func columnCompareScalar(op string, c *Column, v any, colOnLeft bool) (*Column, error) {
	out := emptyColumn(c.name, Bool)
	for i := 0; i < c.Len(); i++ {
		var cmp int
		var err error
		if colOnLeft {
			cmp, err = compareValues(c.At(i), v)
		} else {
			cmp, err = compareValues(v, c.At(i))
		}
		if err != nil {
			return nil, err
		}
		out.b = append(out.b, cmpHolds(op, cmp))
	}
	return out, nil
}

// frameArithScalar applies an arithmetic op between every value column of a
// frame and a scalar.
func frameArithScalar(op string, f *Frame, v any, frameOnLeft bool) (*Frame, error) {
	out := &Frame{indexName: f.indexName, index: f.index}
	for _, c := range f.cols {
		rc, err := columnArithScalar(op, c, v, frameOnLeft)
		if err != nil {
			return nil, err
		}
		out.cols = append(out.cols, rc)
	}
	return out, nil
}

// frameArithFrame applies an arithmetic op column-by-column between two
// frames, aligned on the left frame's columns. The right frame may carry
// extra columns; a sum over numeric columns divides by a count that still
// has the non-numeric ones.
func frameArithFrame(op string, a, b *Frame) (*Frame, error) {
	out := &Frame{indexName: a.indexName, index: a.index}
	for _, ac := range a.cols {
		bc, err := b.Column(ac.name)
		if err != nil {
			return nil, err
		}
		rc, err := columnArith(op, ac, bc)
		if err != nil {
			return nil, err
		}
		out.cols = append(out.cols, rc)
	}
	return out, nil
}

// applyBinary dispatches an arithmetic operator over the operand shapes that
// can reach a partition kernel.
func applyBinary(op string, a, b any) (any, error) {
	a, b = normalizeScalar(a), normalizeScalar(b)
	switch av := a.(type) {
	case *Frame:
		switch bv := b.(type) {
		case *Frame:
			return frameArithFrame(op, av, bv)
		case *Column:
			return nil, &TypeMismatchError{Op: op, Left: "frame", Right: "column"}
		default:
			return frameArithScalar(op, av, bv, true)
		}
	case *Column:
		switch bv := b.(type) {
		case *Column:
			return columnArith(op, av, bv)
		case *Frame:
			return nil, &TypeMismatchError{Op: op, Left: "column", Right: "frame"}
		default:
			return columnArithScalar(op, av, bv, true)
		}
	default:
		switch bv := b.(type) {
		case *Frame:
			return frameArithScalar(op, bv, av, false)
		case *Column:
			return columnArithScalar(op, bv, av, false)
		default:
			return arithScalars(op, av, bv)
		}
	}
}

// applyComparison dispatches a comparison operator; results are boolean.
func applyComparison(op string, a, b any) (any, error) {
	a, b = normalizeScalar(a), normalizeScalar(b)
	switch av := a.(type) {
	case *Column:
		if bv, ok := b.(*Column); ok {
			return columnCompare(op, av, bv)
		}
		return columnCompareScalar(op, av, b, true)
	default:
		if bv, ok := b.(*Column); ok {
			return columnCompareScalar(op, bv, av, false)
		}
		return cmpScalars(op, a, b)
	}
}
