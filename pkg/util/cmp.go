package util

import (
	"fmt"
	"math"
	"sort"
)

// EqualSlices compares two slices with a caller-supplied predicate,
// optionally ignoring element order.
func EqualSlices[T any](a, b []T, equal func(x, y T) bool, ignoreOrder bool) bool {
	if len(a) != len(b) {
		return false
	}

	if ignoreOrder {
		aCopy := append([]T(nil), a...)
		bCopy := append([]T(nil), b...)

		sort.Slice(aCopy, func(i, j int) bool {
			return fmt.Sprint(aCopy[i]) < fmt.Sprint(aCopy[j])
		})
		sort.Slice(bCopy, func(i, j int) bool {
			return fmt.Sprint(bCopy[i]) < fmt.Sprint(bCopy[j])
		})

		a, b = aCopy, bCopy
	}

	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Float32sNear reports whether two sample slices match within tol,
// element by element.
func Float32sNear(a, b []float32, tol float64) bool {
	return EqualSlices(a, b, func(x, y float32) bool {
		return math.Abs(float64(x)-float64(y)) <= tol
	}, false)
}
