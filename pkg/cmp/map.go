package cmp

// MapEq checks a and b have the same keys and values.
func MapEq[K, V comparable](a, b map[K]V) bool {
	return MapEqWith(a, b, EqEq[V])
}

// MapEqWith checks a and b have the same keys with equivalent values.
func MapEqWith[K comparable, V, U any](a map[K]V, b map[K]U, pred BiPredicator[V, U]) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !pred(va, vb) {
			return false
		}
	}
	return true
}
