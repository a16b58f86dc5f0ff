package geometry

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
)

// Point is a sub-pixel image coordinate.
type Point struct {
	X, Y float64
}

// Quad holds corners in top-left, top-right, bottom-right, bottom-left order.
type Quad [4]Point

// Area is the shoelace area of q.
func (q Quad) Area() float64 {
	var s float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		s += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(s) / 2
}

// Scale multiplies every corner by f.
func (q Quad) Scale(f float64) Quad {
	for i := range q {
		q[i].X *= f
		q[i].Y *= f
	}
	return q
}

// Size is the rectified width and height of q: its longest opposite edges.
func (q Quad) Size() (int, int) {
	dist := func(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }
	w := math.Max(dist(q[0], q[1]), dist(q[3], q[2]))
	h := math.Max(dist(q[0], q[3]), dist(q[1], q[2]))
	return int(math.Round(w)) + 1, int(math.Round(h)) + 1
}

// SpansFrame reports whether every corner lies within tol pixels of the
// matching corner of a width x height frame.
func (q Quad) SpansFrame(width, height int, tol float64) bool {
	frame := Quad{{0, 0}, {float64(width - 1), 0}, {float64(width - 1), float64(height - 1)}, {0, float64(height - 1)}}
	for i := range q {
		if math.Abs(q[i].X-frame[i].X) > tol || math.Abs(q[i].Y-frame[i].Y) > tol {
			return false
		}
	}
	return true
}

// DetectQuad separates the foreground from the background sampled on a
// two-pixel border ring and returns the foreground's extreme corners. The
// confidence is the share of the quad area covered by foreground pixels.
func DetectQuad(gray *image.Gray, minContrast float64) (Quad, float64) {
	var q Quad
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 8 || h < 8 {
		return q, 0
	}
	at := func(x, y int) float64 { return float64(gray.Pix[y*gray.Stride+x]) }

	var bg float64
	var ring int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < 2 || y < 2 || x >= w-2 || y >= h-2 {
				bg += at(x, y)
				ring++
			}
		}
	}
	bg /= float64(ring)

	// top-left minimises x+y, top-right maximises x-y, bottom-right
	// maximises x+y, bottom-left maximises y-x
	score := [4]float64{math.Inf(1), math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	count := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if math.Abs(at(x, y)-bg) <= minContrast {
				continue
			}
			count++
			fx, fy := float64(x), float64(y)
			if s := fx + fy; s < score[0] {
				score[0], q[0] = s, Point{fx, fy}
			}
			if s := fx - fy; s > score[1] {
				score[1], q[1] = s, Point{fx, fy}
			}
			if s := fx + fy; s > score[2] {
				score[2], q[2] = s, Point{fx, fy}
			}
			if s := fy - fx; s > score[3] {
				score[3], q[3] = s, Point{fx, fy}
			}
		}
	}
	if count < 16 {
		return q, 0
	}
	area := q.Area()
	if area < 1 {
		return q, 0
	}
	return q, math.Min(1, float64(count)/area)
}

// ComputeHomography solves the direct linear transform mapping the four
// from points onto the four to points, with h33 fixed to 1.
func ComputeHomography(from, to Quad) (adapter.Homography, error) {
	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := from[i].X, from[i].Y
		u, v := to[i].X, to[i].Y

		// u = (h0 x + h1 y + h2) / (h6 x + h7 y + 1)
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -u*x)
		A.Set(i*2, 7, -u*y)
		B.SetVec(i*2, u)

		// v = (h3 x + h4 y + h5) / (h6 x + h7 y + 1)
		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -v*x)
		A.Set(i*2+1, 7, -v*y)
		B.SetVec(i*2+1, v)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return adapter.Homography{}, fmt.Errorf("solve homography: %w", err)
	}

	var h adapter.Homography
	for i := 0; i < 8; i++ {
		h[i] = params.AtVec(i)
	}
	h[8] = 1
	return h, nil
}
