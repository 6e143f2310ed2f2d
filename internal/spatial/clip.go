package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// overlapArea returns the area of the intersection of a ring and an
// axis-aligned cell: a Sutherland-Hodgman clip against each cell edge, then
// the shoelace area of what remains.
func overlapArea(flat []float64, cell rect) float64 {
	clipped := clipEdge(flat, func(x, _ float64) bool { return x >= cell.minX }, crossX(cell.minX))
	clipped = clipEdge(clipped, func(x, _ float64) bool { return x <= cell.maxX }, crossX(cell.maxX))
	clipped = clipEdge(clipped, func(_, y float64) bool { return y >= cell.minY }, crossY(cell.minY))
	clipped = clipEdge(clipped, func(_, y float64) bool { return y <= cell.maxY }, crossY(cell.maxY))
	if len(clipped) < 6 {
		return 0
	}

	// The area algorithm assumes a closed ring.
	if clipped[0] != clipped[len(clipped)-2] || clipped[1] != clipped[len(clipped)-1] {
		clipped = append(clipped, clipped[0], clipped[1])
	}

	poly := geom.NewPolygonFlat(geom.XY, clipped, []int{len(clipped)})
	return math.Abs(poly.Area())
}

type edgeTest func(x, y float64) bool

type edgeCross func(x1, y1, x2, y2 float64) (float64, float64)

// clipEdge keeps the part of the ring on the inside of one boundary,
// inserting crossing points where edges leave or enter.
func clipEdge(flat []float64, inside edgeTest, cross edgeCross) []float64 {
	if len(flat) < 6 {
		return nil
	}

	n := len(flat) / 2
	out := make([]float64, 0, len(flat)+4)

	for i := 0; i < n; i++ {
		x1, y1 := flat[2*i], flat[2*i+1]
		j := (i + 1) % n
		x2, y2 := flat[2*j], flat[2*j+1]

		in1, in2 := inside(x1, y1), inside(x2, y2)
		switch {
		case in1 && in2:
			out = append(out, x2, y2)
		case in1 && !in2:
			cx, cy := cross(x1, y1, x2, y2)
			out = append(out, cx, cy)
		case !in1 && in2:
			cx, cy := cross(x1, y1, x2, y2)
			out = append(out, cx, cy, x2, y2)
		}
	}
	return out
}

// crossX intersects a segment with the vertical line x=c. Callers only reach
// this when the segment endpoints straddle the line, so x2 != x1.
func crossX(c float64) edgeCross {
	return func(x1, y1, x2, y2 float64) (float64, float64) {
		t := (c - x1) / (x2 - x1)
		return c, y1 + t*(y2-y1)
	}
}

// crossY intersects a segment with the horizontal line y=c.
func crossY(c float64) edgeCross {
	return func(x1, y1, x2, y2 float64) (float64, float64) {
		t := (c - y1) / (y2 - y1)
		return x1 + t*(x2-x1), c
	}
}
