// Package cmp provides comparison helpers, mainly for tests.
package cmp

// BiPredicator says whether a and b are equivalent.
type BiPredicator[A, B any] func(a A, b B) bool

// EqEq is a == b as a BiPredicator.
func EqEq[T comparable](a, b T) bool {
	return a == b
}

// PEqEq compares pointees. Two nils are equal.
func PEqEq[T comparable](a, b *T) bool {
	return PEqualWith(a, b, EqEq[T])
}

// PEqualWith compares pointees with pred. Two nils are equal.
func PEqualWith[T any](a, b *T, pred func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return pred(*a, *b)
}
