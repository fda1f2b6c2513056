package preprocess

import (
	"image"

	"gocv.io/x/gocv"

	imgutil "idcard-ocr/internal/image"
)

// Enhance steps.
const (
	StepBilateral = "bilateral"
	StepUnsharp   = "unsharp"
)

// Enhance prepares a small field crop for OCR: CLAHE, bilateral
// smoothing, adaptive threshold, closing and an unsharp mask. The caller
// owns the returned BGR Mat.
func Enhance(crop gocv.Mat) (gocv.Mat, Reports) {
	var reports Reports
	cur := imgutil.ToGray(crop)

	replace := func(step string, next gocv.Mat, status StepStatus, reason string) {
		if next.Empty() {
			next.Close()
			reports.add(step, StepFailed, "empty output")
			return
		}
		cur.Close()
		cur = next
		reports.add(step, status, reason)
	}

	next, status, reason := equalize(cur)
	replace(StepContrast, next, status, reason)

	bil := gocv.NewMat()
	gocv.BilateralFilter(cur, &bil, 9, 75, 75)
	if bil.Empty() {
		bil.Close()
		bil = gocv.NewMat()
		gocv.GaussianBlur(cur, &bil, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)
		replace(StepBilateral, bil, StepFallback, "gaussian 3x3")
	} else {
		replace(StepBilateral, bil, StepApplied, "d9 75/75")
	}

	th, reason := bestThreshold(cur)
	replace(StepThreshold, th, StepApplied, reason)

	replace(StepMorph, morph(cur, MorphClose, 3), StepApplied, "close 3x3")

	blur := gocv.NewMat()
	gocv.GaussianBlur(cur, &blur, image.Point{}, 3, 3, gocv.BorderDefault)
	unsharp := gocv.NewMat()
	gocv.AddWeighted(cur, 1.5, blur, -0.5, 0, &unsharp)
	blur.Close()
	replace(StepUnsharp, unsharp, StepApplied, "sigma 3")

	out := imgutil.ToBGR(cur)
	cur.Close()
	return out, reports
}

// bestThreshold binarizes with a Gaussian (11, 2) and a mean (15, 4)
// adaptive threshold and keeps the one with the higher contrast.
func bestThreshold(gray gocv.Mat) (gocv.Mat, string) {
	gauss := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &gauss, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)
	mean := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &mean, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, 15, 4)

	if stdDev(gauss) >= stdDev(mean) {
		mean.Close()
		return gauss, "gaussian 11/2"
	}
	gauss.Close()
	return mean, "mean 15/4"
}

func stdDev(m gocv.Mat) float64 {
	if m.Empty() {
		return -1
	}
	mean := gocv.NewMat()
	defer mean.Close()
	sd := gocv.NewMat()
	defer sd.Close()
	gocv.MeanStdDev(m, &mean, &sd)
	return sd.GetDoubleAt(0, 0)
}
