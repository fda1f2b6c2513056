package image

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// stripes runs fn over horizontal bands of [0, height) in parallel.
func stripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}

// ImageToMat converts a Go image to a BGR Mat.
func ImageToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	stripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				mat.SetUCharAt(y, x*3+0, uint8(b>>8))
				mat.SetUCharAt(y, x*3+1, uint8(g>>8))
				mat.SetUCharAt(y, x*3+2, uint8(r>>8))
			}
		}
	})
	return mat
}

// MatToImage converts a 1- or 3-channel 8-bit Mat to an RGBA image.
func MatToImage(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	channels := mat.Channels()
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	h := mat.Rows()
	w := mat.Cols()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride

	stripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			rowOffset := y * stride
			for x := 0; x < w; x++ {
				p := rowOffset + x*4
				if channels == 1 {
					v := mat.GetUCharAt(y, x)
					img.Pix[p+0], img.Pix[p+1], img.Pix[p+2] = v, v, v
				} else {
					img.Pix[p+0] = mat.GetUCharAt(y, x*3+2)
					img.Pix[p+1] = mat.GetUCharAt(y, x*3+1)
					img.Pix[p+2] = mat.GetUCharAt(y, x*3+0)
				}
				img.Pix[p+3] = 255
			}
		}
	})
	return img, nil
}

// ToBGR returns a 3-channel copy of a 1- or 3-channel Mat.
func ToBGR(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	if src.Channels() == 1 {
		gocv.CvtColor(src, &dst, gocv.ColorGrayToBGR)
	} else {
		src.CopyTo(&dst)
	}
	return dst
}

// ToGray returns a single-channel copy of a 1- or 3-channel Mat.
func ToGray(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	if src.Channels() == 3 {
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&dst)
	}
	return dst
}

// EncodePNG encodes a Mat as PNG bytes.
func EncodePNG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
