package geometry

import (
	"math"
	"testing"
)

func TestOrderCorners(t *testing.T) {
	tests := []struct {
		name string
		in   []Point2D
		want Quad
		ok   bool
	}{
		{
			name: "shuffled axis aligned",
			in:   []Point2D{{100, 50}, {0, 0}, {0, 50}, {100, 0}},
			want: Quad{{0, 0}, {100, 0}, {100, 50}, {0, 50}},
			ok:   true,
		},
		{
			name: "slightly rotated",
			in:   []Point2D{{12, 110}, {210, 95}, {10, 10}, {200, 0}},
			want: Quad{{10, 10}, {200, 0}, {210, 95}, {12, 110}},
			ok:   true,
		},
		{
			name: "wrong count",
			in:   []Point2D{{0, 0}, {1, 1}, {2, 2}},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OrderCorners(tt.in)
			if ok != tt.ok {
				t.Fatalf("OrderCorners() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("OrderCorners() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuadTargetSize(t *testing.T) {
	q := Quad{{0, 0}, {300, 10}, {310, 200}, {0, 190}}
	got := q.TargetSize()
	if got.Width != 310 {
		t.Errorf("Width = %d, want 310", got.Width)
	}
	if got.Height != 190 {
		t.Errorf("Height = %d, want 190", got.Height)
	}
}

func TestQuadConvexAndArea(t *testing.T) {
	square := RectInt{X: 0, Y: 0, Width: 10, Height: 10}.Corners()
	if !square.IsConvex() {
		t.Error("square should be convex")
	}
	if square.Area() != 100 {
		t.Errorf("Area() = %v, want 100", square.Area())
	}
	bowtie := Quad{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	if bowtie.IsConvex() {
		t.Error("self-intersecting quad reported convex")
	}
	if !square.Contains(Point2D{5, 5}) || square.Contains(Point2D{15, 5}) {
		t.Error("Contains() wrong for square")
	}
}

func TestRectIntClamp(t *testing.T) {
	tests := []struct {
		name string
		in   RectInt
		want RectInt
	}{
		{"inside", RectInt{10, 10, 20, 20}, RectInt{10, 10, 20, 20}},
		{"overflow right bottom", RectInt{90, 40, 20, 20}, RectInt{90, 40, 10, 10}},
		{"negative origin", RectInt{-5, -5, 20, 20}, RectInt{0, 0, 15, 15}},
		{"fully outside", RectInt{200, 200, 5, 5}, RectInt{X: 200, Y: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(100, 50); got != tt.want {
				t.Errorf("Clamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelativeRectScale(t *testing.T) {
	r := Rect{X: 0.55, Y: 0.12, Width: 0.40, Height: 0.10}
	got := r.Scale(Size{Width: 1000, Height: 600})
	want := RectInt{X: 550, Y: 72, Width: 400, Height: 60}
	if got != want {
		t.Errorf("Scale() = %v, want %v", got, want)
	}
}

func TestHomographyRoundTrip(t *testing.T) {
	src := Quad{{12, 8}, {410, 30}, {400, 290}, {5, 270}}
	dst := RectInt{Width: 400, Height: 260}.Corners()

	h, err := SolveHomography(src, dst)
	if err != nil {
		t.Fatalf("SolveHomography() error = %v", err)
	}
	for i := range src {
		got := h.Apply(src[i])
		if math.Abs(got.X-dst[i].X) > 1e-6 || math.Abs(got.Y-dst[i].Y) > 1e-6 {
			t.Errorf("corner %d maps to %v, want %v", i, got, dst[i])
		}
	}

	inv, err := h.Inverse()
	if err != nil {
		t.Fatalf("Inverse() error = %v", err)
	}
	back := inv.Apply(Point2D{200, 130})
	fwd := h.Apply(back)
	if math.Abs(fwd.X-200) > 1e-6 || math.Abs(fwd.Y-130) > 1e-6 {
		t.Errorf("inverse round trip = %v, want (200,130)", fwd)
	}
}

func TestSolveHomographyDegenerate(t *testing.T) {
	line := Quad{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	if _, err := SolveHomography(line, line); err == nil {
		t.Error("expected error for collinear points")
	}
}
