package geometry

import "math"

// Point is a 2D image coordinate
type Point struct {
	X float64
	Y float64
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Norm returns the Euclidean length of p
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// Quad is a quadrilateral ordered top-left, top-right, bottom-right, bottom-left
type Quad [4]Point

// TopLeft returns the first corner
func (q Quad) TopLeft() Point { return q[0] }

// TopRight returns the second corner
func (q Quad) TopRight() Point { return q[1] }

// BottomRight returns the third corner
func (q Quad) BottomRight() Point { return q[2] }

// BottomLeft returns the fourth corner
func (q Quad) BottomLeft() Point { return q[3] }

// OrderPoints orders four unordered corners.
// Top-left has the smallest x+y and bottom-right the largest. Top-right has the
// smallest y-x and bottom-left the largest. Ties go to the earliest point.
func OrderPoints(pts [4]Point) Quad {
	sum := func(p Point) float64 { return p.X + p.Y }
	diff := func(p Point) float64 { return p.Y - p.X }

	var q Quad
	q[0] = pts[argmin(pts, sum)]
	q[2] = pts[argmax(pts, sum)]
	q[1] = pts[argmin(pts, diff)]
	q[3] = pts[argmax(pts, diff)]
	return q
}

func argmin(pts [4]Point, f func(Point) float64) int {
	best := 0
	for i := 1; i < len(pts); i++ {
		if f(pts[i]) < f(pts[best]) {
			best = i
		}
	}
	return best
}

func argmax(pts [4]Point, f func(Point) float64) int {
	best := 0
	for i := 1; i < len(pts); i++ {
		if f(pts[i]) > f(pts[best]) {
			best = i
		}
	}
	return best
}

// Scale multiplies every coordinate by f
func (q Quad) Scale(f float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = Point{X: p.X * f, Y: p.Y * f}
	}
	return out
}

// DestinationSize returns the size of the rectangle the quad is warped onto:
// the longer of the two horizontal edges by the longer of the two vertical
// edges, truncated to whole pixels
func (q Quad) DestinationSize() (width, height int) {
	widthA := q.BottomRight().Sub(q.BottomLeft()).Norm()
	widthB := q.TopRight().Sub(q.TopLeft()).Norm()
	heightA := q.TopRight().Sub(q.BottomRight()).Norm()
	heightB := q.TopLeft().Sub(q.BottomLeft()).Norm()
	return int(math.Max(widthA, widthB)), int(math.Max(heightA, heightB))
}

// Destination returns the target corners for a perspective warp of q
func (q Quad) Destination() Quad {
	w, h := q.DestinationSize()
	return Quad{
		{X: 0, Y: 0},
		{X: float64(w - 1), Y: 0},
		{X: float64(w - 1), Y: float64(h - 1)},
		{X: 0, Y: float64(h - 1)},
	}
}

// CapSize scales (w, h) down proportionally so the longer edge is exactly
// limit. It reports false and returns the input when no scaling is needed.
func CapSize(w, h, limit int) (int, int, bool) {
	longer := max(w, h)
	if longer <= limit {
		return w, h, false
	}
	scale := float64(limit) / float64(longer)
	if w >= h {
		return limit, max(int(float64(h)*scale), 1), true
	}
	return max(int(float64(w)*scale), 1), limit, true
}

// NormalizeSkew maps a minimum-area-rectangle angle into (-45, 45]
func NormalizeSkew(angle float64) float64 {
	if angle < -45 {
		angle += 90
	}
	if angle > 45 {
		angle -= 90
	}
	return angle
}

// RotationMatrix returns the 2x3 affine matrix that rotates by angle degrees
// (counter-clockwise in image space) about (cx, cy)
func RotationMatrix(cx, cy, angle, scale float64) [2][3]float64 {
	rad := angle * math.Pi / 180
	alpha := scale * math.Cos(rad)
	beta := scale * math.Sin(rad)
	return [2][3]float64{
		{alpha, beta, (1-alpha)*cx - beta*cy},
		{-beta, alpha, beta*cx + (1-alpha)*cy},
	}
}
