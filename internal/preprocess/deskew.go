package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// MinSkew is the smallest rotation worth correcting, in degrees.
const MinSkew = 0.5

// EstimateSkew measures the rotation of the largest edge contour of a
// grayscale image. ok is false when there is nothing to correct; reason
// says why.
func EstimateSkew(gray gocv.Mat) (angle float64, ok bool, reason string) {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return 0, false, "no contours"
	}

	best := -1
	var bestArea float64
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	if best < 0 || bestArea == 0 {
		return 0, false, "no closed contour"
	}

	rect := gocv.MinAreaRect(contours.At(best))
	angle = NormalizeAngle(rect.Angle)
	if math.Abs(angle) < MinSkew {
		return angle, false, fmt.Sprintf("|%.2f| < %.1f deg", angle, MinSkew)
	}
	return angle, true, ""
}

// NormalizeAngle converts a minimum-area-rectangle angle into the
// correcting rotation in [-45, 45]. Both OpenCV conventions, [-90, 0)
// and (0, 90], are accepted.
func NormalizeAngle(a float64) float64 {
	switch {
	case a < -45:
		return -(90 + a)
	case a > 45:
		return 90 - a
	default:
		return -a
	}
}

// Rotate turns the image by angle degrees about its center, keeping the
// size and replicating the border.
func Rotate(src gocv.Mat, angle float64) gocv.Mat {
	center := image.Point{X: src.Cols() / 2, Y: src.Rows() / 2}
	m := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Point{X: src.Cols(), Y: src.Rows()},
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return dst
}
