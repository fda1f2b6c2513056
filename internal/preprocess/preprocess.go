package preprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	imgutil "idcard-ocr/internal/image"
)

// Step names.
const (
	StepDecode    = "decode"
	StepUpscale   = "upscale"
	StepDenoise   = "denoise"
	StepContrast  = "contrast"
	StepDeskew    = "deskew"
	StepThreshold = "threshold"
	StepMorph     = "morph"
	StepSharpen   = "sharpen"
)

// Result is a preprocessed image. Mat is always 3-channel BGR.
type Result struct {
	Mat   gocv.Mat
	Steps Reports
	// Scale is the factor applied by the upscale step (1 when skipped).
	Scale float64
	// Angle is the deskew rotation in degrees (0 when skipped).
	Angle float64
}

// Close releases the image.
func (r *Result) Close() error {
	return r.Mat.Close()
}

// Preprocess decodes raw bytes and applies opts. A decode failure is the
// only error.
func Preprocess(raw imgutil.RawImage, opts Options) (*Result, error) {
	src, err := imgutil.Decode(raw)
	defer src.Close()
	if err != nil {
		return nil, err
	}

	res, err := Apply(src, opts)
	if err != nil {
		return nil, err
	}
	res.Steps = append(Reports{{Step: StepDecode, Status: StepApplied, Reason: raw.Encoding}}, res.Steps...)
	return res, nil
}

// Apply runs the configured steps on an already decoded image. src is not
// modified.
func Apply(src gocv.Mat, opts Options) (*Result, error) {
	if src.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Scale: 1}
	cur := imgutil.ToGray(src)

	// replace swaps in next when it is usable, otherwise keeps cur.
	replace := func(step string, next gocv.Mat, status StepStatus, reason string) {
		if next.Empty() {
			next.Close()
			res.Steps.add(step, StepFailed, "empty output")
			return
		}
		cur.Close()
		cur = next
		res.Steps.add(step, status, reason)
	}

	// 1. upscale
	if !opts.Upscale {
		res.Steps.add(StepUpscale, StepSkipped, "disabled")
	} else if max(cur.Cols(), cur.Rows()) >= opts.UpscaleBelow {
		res.Steps.add(StepUpscale, StepSkipped, fmt.Sprintf("long edge %d >= %d", max(cur.Cols(), cur.Rows()), opts.UpscaleBelow))
	} else {
		up := gocv.NewMat()
		gocv.Resize(cur, &up, image.Point{X: cur.Cols() * 2, Y: cur.Rows() * 2}, 0, 0, gocv.InterpolationLinear)
		if !up.Empty() {
			res.Scale = 2
		}
		replace(StepUpscale, up, StepApplied, "2x")
	}

	// 2. denoise
	if !opts.Denoise {
		res.Steps.add(StepDenoise, StepSkipped, "disabled")
	} else {
		next, status, reason := denoise(cur)
		replace(StepDenoise, next, status, reason)
	}

	// 3. contrast
	if !opts.Contrast {
		res.Steps.add(StepContrast, StepSkipped, "disabled")
	} else {
		next, status, reason := equalize(cur)
		replace(StepContrast, next, status, reason)
	}

	// 4. deskew
	if !opts.Deskew {
		res.Steps.add(StepDeskew, StepSkipped, "disabled")
	} else {
		angle, ok, reason := EstimateSkew(cur)
		switch {
		case !ok:
			res.Steps.add(StepDeskew, StepSkipped, reason)
		default:
			res.Angle = angle
			replace(StepDeskew, Rotate(cur, angle), StepApplied, fmt.Sprintf("%.2f deg", angle))
		}
	}

	// 5. threshold + morphology
	if !opts.Threshold {
		res.Steps.add(StepThreshold, StepSkipped, "disabled")
		res.Steps.add(StepMorph, StepSkipped, "no threshold")
	} else {
		th := gocv.NewMat()
		gocv.AdaptiveThreshold(cur, &th, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)
		replace(StepThreshold, th, StepApplied, "gaussian 11/2")

		if opts.Morph == MorphNone {
			res.Steps.add(StepMorph, StepSkipped, "disabled")
		} else {
			replace(StepMorph, morph(cur, opts.Morph, opts.MorphKernel), StepApplied,
				fmt.Sprintf("%s %dx%d", opts.Morph, opts.MorphKernel, opts.MorphKernel))
		}
	}

	// 6. sharpen
	if !opts.Sharpen {
		res.Steps.add(StepSharpen, StepSkipped, "disabled")
	} else {
		next, status, reason := sharpen(cur)
		replace(StepSharpen, next, status, reason)
	}

	res.Mat = imgutil.ToBGR(cur)
	cur.Close()
	return res, nil
}

func denoise(src gocv.Mat) (gocv.Mat, StepStatus, string) {
	dst := gocv.NewMat()
	gocv.FastNlMeansDenoisingWithParams(src, &dst, 10, 7, 21)
	if !dst.Empty() {
		return dst, StepApplied, "nl-means 10/7/21"
	}
	dst.Close()

	blur := gocv.NewMat()
	gocv.GaussianBlur(src, &blur, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)
	return blur, StepFallback, "gaussian 3x3"
}

func equalize(src gocv.Mat) (gocv.Mat, StepStatus, string) {
	clahe := gocv.NewCLAHEWithParams(3.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	dst := gocv.NewMat()
	clahe.Apply(src, &dst)
	if !dst.Empty() {
		return dst, StepApplied, "clahe 3.0/8x8"
	}
	dst.Close()

	out, err := autoContrast(src)
	if err != nil {
		return gocv.NewMat(), StepFailed, err.Error()
	}
	return out, StepFallback, "autocontrast"
}

func morph(src gocv.Mat, op MorphOp, size int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: size, Y: size})
	defer kernel.Close()

	t := gocv.MorphClose
	if op == MorphOpen {
		t = gocv.MorphOpen
	}
	dst := gocv.NewMat()
	gocv.MorphologyEx(src, &dst, t, kernel)
	return dst
}

func sharpen(src gocv.Mat) (gocv.Mat, StepStatus, string) {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	weights := [3][3]float32{{0, -1, 0}, {-1, 5, -1}, {0, -1, 0}}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			kernel.SetFloatAt(r, c, weights[r][c])
		}
	}

	dst := gocv.NewMat()
	gocv.Filter2D(src, &dst, -1, kernel, image.Point{X: -1, Y: -1}, 0, gocv.BorderDefault)
	if !dst.Empty() {
		return dst, StepApplied, "3x3 kernel"
	}
	dst.Close()

	out, err := sharpenFallback(src)
	if err != nil {
		return gocv.NewMat(), StepFailed, err.Error()
	}
	return out, StepFallback, "imaging sharpen"
}
