package cmp

// SliceEq checks a and b have the same elements in the same order.
func SliceEq[T comparable](a, b []T) bool {
	return SliceEqWith(a, b, EqEq[T])
}

// SliceEqWith checks a and b have equivalent elements in the same order.
func SliceEqWith[A, B any](a []A, b []B, pred BiPredicator[A, B]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !pred(a[i], b[i]) {
			return false
		}
	}
	return true
}

// SliceContentEq checks a and b are equal as multisets.
//
//	SliceContentEq([]string{"a", "b"}, []string{"b", "a"})       // true
//	SliceContentEq([]string{"a", "a"}, []string{"a"})            // false
func SliceContentEq[T comparable](a, b []T) bool {
	return SliceContentEqWith(a, b, EqEq[T])
}

// SliceContentEqWith checks a and b are equivalent as multisets.
func SliceContentEqWith[A, B any](a []A, b []B, pred BiPredicator[A, B]) bool {
	if len(a) != len(b) {
		return false
	}

	used := make([]bool, len(b))
NEXT_A:
	for _, va := range a {
		for j, vb := range b {
			if used[j] || !pred(va, vb) {
				continue
			}
			used[j] = true
			continue NEXT_A
		}
		return false
	}
	return true
}
