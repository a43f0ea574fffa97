// Package geom provides the planar geometry used to key points in the
// spatial store: a point coordinate and a closed bounding rectangle with
// quadrant splitting.
package geom

import "fmt"

// Point is a planar XY coordinate.  It is used only as a spatial index
// key; the full point record travels separately as packed bytes.
type Point struct {
	X float64
	Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Quadrant labels, in the canonical NW, NE, SW, SE order.  This order is
// load-bearing: base-page slot addressing and query emission both follow
// it.
const (
	NW = iota
	NE
	SW
	SE
	NumQuadrants
)

// BBox is a closed rectangle [XMin, XMax] x [YMin, YMax].  Containment
// is inclusive on all four sides.
type BBox struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// NewBBox returns the closed rectangle spanning min and max.
func NewBBox(min, max Point) BBox {
	return BBox{XMin: min.X, YMin: min.Y, XMax: max.X, YMax: max.Y}
}

// Min returns the lower-left corner.
func (b BBox) Min() Point { return Point{b.XMin, b.YMin} }

// Max returns the upper-right corner.
func (b BBox) Max() Point { return Point{b.XMax, b.YMax} }

// Mid returns the center of the box.  Split and Quadrant both derive
// their shared edges from this single computation.
func (b BBox) Mid() Point {
	return Point{(b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2}
}

// Contains reports whether p lies in the box, inclusive of all edges.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Intersects reports whether b and o share any point.  Boxes that touch
// only along an edge or at a corner intersect.
func (b BBox) Intersects(o BBox) bool {
	return b.XMin <= o.XMax && o.XMin <= b.XMax && b.YMin <= o.YMax && o.YMin <= b.YMax
}

// Split divides the box into four equal-area quadrants, returned in NW,
// NE, SW, SE order.  The midlines are shared edges: each quadrant is
// itself a closed rectangle, so a point exactly on a midline is
// contained by two quadrants.  Quadrant resolves that tie; routing must
// use it rather than Contains on the children.
func (b BBox) Split() [NumQuadrants]BBox {
	mid := b.Mid()
	return [NumQuadrants]BBox{
		NW: {XMin: b.XMin, YMin: mid.Y, XMax: mid.X, YMax: b.YMax},
		NE: {XMin: mid.X, YMin: mid.Y, XMax: b.XMax, YMax: b.YMax},
		SW: {XMin: b.XMin, YMin: b.YMin, XMax: mid.X, YMax: mid.Y},
		SE: {XMin: mid.X, YMin: b.YMin, XMax: b.XMax, YMax: mid.Y},
	}
}

// Quadrant returns the quadrant index for a point contained in b.  A
// point exactly on the vertical midline goes to the upper-x (eastern)
// quadrant, and one exactly on the horizontal midline to the upper-y
// (northern) quadrant.  No floating-point tolerance is applied.
func (b BBox) Quadrant(p Point) int {
	mid := b.Mid()
	if p.Y >= mid.Y {
		if p.X >= mid.X {
			return NE
		}
		return NW
	}
	if p.X >= mid.X {
		return SE
	}
	return SW
}

func (b BBox) String() string {
	return fmt.Sprintf("[%v - %v]", b.Min(), b.Max())
}
