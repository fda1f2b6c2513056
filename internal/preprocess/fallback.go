package preprocess

import (
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	imgutil "idcard-ocr/internal/image"
)

// autoContrast stretches contrast in pure Go for when CLAHE is not usable.
func autoContrast(gray gocv.Mat) (gocv.Mat, error) {
	img, err := imgutil.MatToImage(gray)
	if err != nil {
		return gocv.NewMat(), err
	}
	out := imaging.Grayscale(imaging.AdjustContrast(img, 30))
	bgr := imgutil.ImageToMat(out)
	defer bgr.Close()
	return imgutil.ToGray(bgr), nil
}

func sharpenFallback(gray gocv.Mat) (gocv.Mat, error) {
	img, err := imgutil.MatToImage(gray)
	if err != nil {
		return gocv.NewMat(), err
	}
	out := imaging.Sharpen(img, 1.0)
	bgr := imgutil.ImageToMat(out)
	defer bgr.Close()
	return imgutil.ToGray(bgr), nil
}
