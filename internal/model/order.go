package model

import (
	"math"
	"sort"
)

// SortByZIndex orders shapes for painting: ascending canonical zIndex,
// arrival order breaking ties. Shapes still carrying the placeholder sort
// after every assigned shape (they are the newest strokes), so nothing
// visibly reorders once the canonical value lands.
//
// The input must already be in arrival order; the sort is stable.
func SortByZIndex(shapes []Shape) {
	sort.SliceStable(shapes, func(i, j int) bool {
		return paintKey(shapes[i].ZIndex) < paintKey(shapes[j].ZIndex)
	})
}

func paintKey(z int) int {
	if z == ZIndexUnassigned {
		return math.MaxInt
	}
	return z
}
