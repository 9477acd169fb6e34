// training_point.go - training-set data model and dominance pruning

package main

// Point is a single confirmed (lux, luma, backlight) observation.
type Point struct {
	Lux       int
	Luma      int
	Backlight int
}

// dominates reports whether the newly confirmed point p makes q stale,
// per the dominance invariant: backlight should be monotone
// non-decreasing in both lux and luma, and any older point that now
// contradicts a freshly confirmed preference is discarded.
func dominates(p, q Point) bool {
	switch {
	case p.Lux == q.Lux && p.Luma == q.Luma:
		// exact replacement
		return true
	case p.Luma == q.Luma && p.Lux < q.Lux:
		// p is always the newer point; newer wins at identical luma
		return true
	case q.Lux < p.Lux && q.Luma >= p.Luma && q.Backlight > p.Backlight:
		// darker ambient but brighter backlight at equal-or-darker content
		return true
	case q.Lux == p.Lux && q.Luma < p.Luma && q.Backlight < p.Backlight:
		return true
	case q.Lux > p.Lux && q.Luma <= p.Luma && q.Backlight < p.Backlight:
		return true
	case q.Lux == p.Lux && q.Luma > p.Luma && q.Backlight > p.Backlight:
		return true
	default:
		return false
	}
}

// prune returns points with every entry dominated by p removed. p
// itself must not be part of points, otherwise rule one would remove
// it against itself.
func prune(points []Point, p Point) []Point {
	out := points[:0]
	for _, q := range points {
		if !dominates(p, q) {
			out = append(out, q)
		}
	}
	return out
}
