package geometry

import "math"

// Quad is a quadrilateral ordered TL, TR, BR, BL.
type Quad [4]Point2D

// OrderCorners orders four arbitrary corner points as TL, TR, BR, BL.
// TL has the smallest x+y, BR the largest x+y, TR the smallest y-x and
// BL the largest y-x.
func OrderCorners(pts []Point2D) (Quad, bool) {
	if len(pts) != 4 {
		return Quad{}, false
	}

	var q Quad
	tl, tr, br, bl := 0, 0, 0, 0
	for i, p := range pts {
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.Y-p.X < pts[tr].Y-pts[tr].X {
			tr = i
		}
		if p.Y-p.X > pts[bl].Y-pts[bl].X {
			bl = i
		}
	}

	// A degenerate quad can make two extremes pick the same vertex.
	seen := map[int]bool{tl: true, tr: true, br: true, bl: true}
	if len(seen) != 4 {
		return Quad{}, false
	}

	q[0], q[1], q[2], q[3] = pts[tl], pts[tr], pts[br], pts[bl]
	return q, true
}

// Points returns the corners as a slice.
func (q Quad) Points() []Point2D {
	return []Point2D{q[0], q[1], q[2], q[3]}
}

// TargetSize returns the size of the axis-aligned rectangle a perspective
// warp of q should produce: the longer of each pair of opposite edges.
func (q Quad) TargetSize() Size {
	widthTop := q[0].Distance(q[1])
	widthBottom := q[3].Distance(q[2])
	heightRight := q[1].Distance(q[2])
	heightLeft := q[0].Distance(q[3])
	return Size{
		Width:  int(math.Max(widthTop, widthBottom)),
		Height: int(math.Max(heightRight, heightLeft)),
	}
}

// Scale returns the quad with every corner scaled by factor.
func (q Quad) Scale(factor float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = p.Scale(factor)
	}
	return out
}

// Area returns the polygon area (shoelace formula).
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(sum) / 2
}

// IsConvex returns true if the corners form a convex polygon.
func (q Quad) IsConvex() bool {
	var sign int
	for i := 0; i < 4; i++ {
		cross := crossProduct(q[i], q[(i+1)%4], q[(i+2)%4])
		if cross == 0 {
			continue
		}
		current := 1
		if cross < 0 {
			current = -1
		}
		if sign == 0 {
			sign = current
		} else if current != sign {
			return false
		}
	}
	return sign != 0
}

// Contains tests if a point is inside the quad using ray casting.
func (q Quad) Contains(p Point2D) bool {
	inside := false
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		pi, pj := q[i], q[j]
		if ((pi.Y > p.Y) != (pj.Y > p.Y)) &&
			(p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X) {
			inside = !inside
		}
	}
	return inside
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
