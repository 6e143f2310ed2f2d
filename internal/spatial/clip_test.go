package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func square(minX, minY, maxX, maxY float64) []float64 {
	return []float64{
		minX, minY,
		minX, maxY,
		maxX, maxY,
		maxX, minY,
		minX, minY,
	}
}

func TestOverlapArea_CellInside(t *testing.T) {
	t.Parallel()

	ring := square(0, 0, 10, 10)
	got := overlapArea(ring, rect{minX: 2, minY: 2, maxX: 4, maxY: 4})
	assert.InDelta(t, 4.0, got, 1e-9)
}

func TestOverlapArea_PartialOverlap(t *testing.T) {
	t.Parallel()

	ring := square(0, 0, 10, 10)
	got := overlapArea(ring, rect{minX: 9, minY: 9, maxX: 11, maxY: 11})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestOverlapArea_Disjoint(t *testing.T) {
	t.Parallel()

	ring := square(0, 0, 10, 10)
	got := overlapArea(ring, rect{minX: 20, minY: 20, maxX: 22, maxY: 22})
	assert.Zero(t, got)
}

func TestOverlapArea_Triangle(t *testing.T) {
	t.Parallel()

	// Right triangle with legs of length 4; the cell covers it entirely.
	ring := []float64{0, 0, 4, 0, 0, 4, 0, 0}
	got := overlapArea(ring, rect{minX: 0, minY: 0, maxX: 4, maxY: 4})
	assert.InDelta(t, 8.0, got, 1e-9)
}

func TestOverlapArea_RingContainsCell(t *testing.T) {
	t.Parallel()

	// Clockwise ring orientation must not change the magnitude.
	cw := []float64{0, 0, 0, 10, 10, 10, 10, 0, 0, 0}
	ccw := []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}
	cell := rect{minX: 1, minY: 1, maxX: 3, maxY: 5}

	assert.InDelta(t, 8.0, overlapArea(cw, cell), 1e-9)
	assert.InDelta(t, 8.0, overlapArea(ccw, cell), 1e-9)
}

func TestClipEdge_Degenerate(t *testing.T) {
	t.Parallel()

	// Too few vertices to enclose anything.
	assert.Nil(t, clipEdge([]float64{0, 0, 1, 1}, func(x, y float64) bool { return true }, crossX(0)))
}
