// Package alignment finds the ID card in a photo and normalizes it to a
// top-down, axis-aligned image.
package alignment

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/pkg/geometry"
)

// Options configures card location.
type Options struct {
	MaxEdge  int     // long edge of the working copy used for contour search
	TopN     int     // contours examined, largest first
	Epsilon  float64 // ApproxPolyDP tolerance as a fraction of the perimeter
	CropW    float64 // center crop width fraction
	CropH    float64 // center crop height fraction
	MinRatio float64 // reject quads covering less than this fraction of the photo
}

// DefaultOptions returns the card locator defaults.
func DefaultOptions() Options {
	return Options{
		MaxEdge: 1600,
		TopN:    10,
		Epsilon: 0.02,
		CropW:   0.8,
		CropH:   0.6,
	}
}

// Detection is a perspective-corrected card.
type Detection struct {
	Image      gocv.Mat
	Corners    geometry.Quad       // TL, TR, BR, BL in source pixels
	Homography geometry.Homography // source -> card
	AreaRatio  float64             // quad area / photo area
}

// Card is the normalized card image handed to region extraction.
type Card struct {
	Image   gocv.Mat
	Method  idcard.CardMethod
	Corners geometry.Quad
	// ToSource maps card pixels back to source-photo pixels.
	ToSource geometry.Homography
}

// Close releases the card image.
func (c *Card) Close() error {
	return c.Image.Close()
}

// Size returns the card image size.
func (c *Card) Size() geometry.Size {
	return geometry.Size{Width: c.Image.Cols(), Height: c.Image.Rows()}
}

// MapBox projects a box on the card into source-photo coordinates.
func (c *Card) MapBox(box geometry.RectInt) geometry.Quad {
	return c.ToSource.ApplyQuad(box.Corners())
}

// Locator finds cards.
type Locator struct {
	opts Options
}

// NewLocator creates a locator. Zero option fields take defaults.
func NewLocator(opts Options) *Locator {
	def := DefaultOptions()
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = def.MaxEdge
	}
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	if opts.CropW <= 0 || opts.CropW > 1 {
		opts.CropW = def.CropW
	}
	if opts.CropH <= 0 || opts.CropH > 1 {
		opts.CropH = def.CropH
	}
	return &Locator{opts: opts}
}

// Locate returns the warped card when a quadrilateral is found, otherwise
// the center crop. It never fails on a non-empty image.
func (l *Locator) Locate(img gocv.Mat) *Card {
	if det, ok := l.LocateAndWarp(img); ok {
		toSource, err := det.Homography.Inverse()
		if err == nil {
			return &Card{
				Image:    det.Image,
				Method:   idcard.CardContour,
				Corners:  det.Corners,
				ToSource: toSource,
			}
		}
		det.Image.Close()
	}

	crop, rect := CenterCrop(img, l.opts.CropW, l.opts.CropH)
	toSource := geometry.IdentityHomography()
	toSource[2] = float64(rect.X)
	toSource[5] = float64(rect.Y)
	return &Card{
		Image:    crop,
		Method:   idcard.CardCenterCrop,
		Corners:  rect.Corners(),
		ToSource: toSource,
	}
}

// LocateAndWarp searches for the card outline and warps it top-down. ok is
// false when no 4-vertex contour is found.
func (l *Locator) LocateAndWarp(img gocv.Mat) (*Detection, bool) {
	if img.Empty() {
		return nil, false
	}

	quad, ok := l.FindQuad(img)
	if !ok {
		return nil, false
	}

	size := quad.TargetSize()
	if size.Width < 2 || size.Height < 2 {
		return nil, false
	}
	dst := geometry.RectInt{Width: size.Width - 1, Height: size.Height - 1}.Corners()

	h, err := geometry.SolveHomography(quad, dst)
	if err != nil {
		return nil, false
	}

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i, v := range h {
		m.SetDoubleAt(i/3, i%3, v)
	}

	warped := gocv.NewMat()
	gocv.WarpPerspective(img, &warped, m, image.Point{X: size.Width, Y: size.Height})
	if warped.Empty() {
		warped.Close()
		return nil, false
	}

	return &Detection{
		Image:      warped,
		Corners:    quad,
		Homography: h,
		AreaRatio:  quad.Area() / float64(img.Cols()*img.Rows()),
	}, true
}

// FindQuad returns the ordered card corners in source pixels.
func (l *Locator) FindQuad(img gocv.Mat) (geometry.Quad, bool) {
	scale := 1.0
	if long := max(img.Cols(), img.Rows()); long > l.opts.MaxEdge {
		scale = float64(l.opts.MaxEdge) / float64(long)
	}

	work := gocv.NewMat()
	defer work.Close()
	if scale < 1 {
		gocv.Resize(img, &work, image.Point{}, scale, scale, gocv.InterpolationArea)
	} else {
		img.CopyTo(&work)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if work.Channels() == 3 {
		gocv.CvtColor(work, &gray, gocv.ColorBGRToGray)
	} else {
		work.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return geometry.Quad{}, false
	}

	type candidate struct {
		idx  int
		area float64
	}
	cands := make([]candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		cands = append(cands, candidate{idx: i, area: gocv.ContourArea(contours.At(i))})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].area > cands[j].area })
	if len(cands) > l.opts.TopN {
		cands = cands[:l.opts.TopN]
	}

	workArea := float64(work.Cols() * work.Rows())
	for _, c := range cands {
		if l.opts.MinRatio > 0 && c.area < l.opts.MinRatio*workArea {
			break
		}
		contour := contours.At(c.idx)
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, l.opts.Epsilon*peri, true)
		if approx.Size() != 4 {
			approx.Close()
			continue
		}

		pts := make([]geometry.Point2D, 4)
		for i := 0; i < 4; i++ {
			p := approx.At(i)
			pts[i] = geometry.Point2D{X: float64(p.X) / scale, Y: float64(p.Y) / scale}
		}
		approx.Close()

		if quad, ok := geometry.OrderCorners(pts); ok {
			return quad, true
		}
	}
	return geometry.Quad{}, false
}

// CenterCrop returns a copy of the centered wf x hf portion of img and the
// cropped rectangle.
func CenterCrop(img gocv.Mat, wf, hf float64) (gocv.Mat, geometry.RectInt) {
	w, h := img.Cols(), img.Rows()
	cw := max(1, int(float64(w)*wf))
	ch := max(1, int(float64(h)*hf))
	rect := geometry.RectInt{X: (w - cw) / 2, Y: (h - ch) / 2, Width: cw, Height: ch}.Clamp(w, h)

	region := img.Region(rect.ImageRect())
	defer region.Close()
	return region.Clone(), rect
}
