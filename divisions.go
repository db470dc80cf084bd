package armada

// Divisions records the index boundary values of a partitioned collection.
// A known Divisions has npartitions+1 entries: partition i spans
// [Divisions[i], Divisions[i+1]), with the last boundary inclusive. A nil
// Divisions means the boundaries are unknown.
type Divisions []any

// Known reports whether the boundaries are recorded.
func (d Divisions) Known() bool { return len(d) > 0 }

// NPartitions returns the partition count implied by the boundaries, or 0
// when unknown.
func (d Divisions) NPartitions() int {
	if len(d) == 0 {
		return 0
	}
	return len(d) - 1
}

// Validate checks that boundaries are non-decreasing.
func (d Divisions) Validate() error {
	for i := 1; i < len(d); i++ {
		c, err := compareValues(d[i-1], d[i])
		if err != nil {
			return &NonMonotonicDivisionsError{Index: i}
		}
		if c > 0 {
			return &NonMonotonicDivisionsError{Index: i}
		}
	}
	return nil
}

// Equal reports whether two divisions describe the same boundaries.
func (d Divisions) Equal(other Divisions) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// unknownDivisions returns nil boundaries sized for n partitions. Callers
// that only need the partition count use unknownCount alongside it.
func unknownDivisions() Divisions { return nil }

// sortedDivisionLocations computes partition boundary values and row offsets
// for a sorted index, keeping equal index values inside one partition.
// It returns the division values (npartitions+1 of them) and the row offsets
// (start of each partition plus the total row count).
func sortedDivisionLocations(idx *Column, npartitions int) (Divisions, []int) {
	n := idx.Len()
	if n == 0 || npartitions < 1 {
		return nil, nil
	}
	if npartitions > n {
		npartitions = n
	}
	offsets := []int{0}
	for p := 1; p < npartitions; p++ {
		loc := p * n / npartitions
		// Never split a run of equal index values across partitions.
		for loc < n {
			c, _ := compareValues(idx.At(loc-1), idx.At(loc))
			if c != 0 {
				break
			}
			loc++
		}
		if loc >= n {
			break
		}
		if loc > offsets[len(offsets)-1] {
			offsets = append(offsets, loc)
		}
	}
	offsets = append(offsets, n)
	divs := make(Divisions, 0, len(offsets))
	for _, off := range offsets[:len(offsets)-1] {
		divs = append(divs, idx.At(off))
	}
	divs = append(divs, idx.At(n-1))
	return divs, offsets
}
