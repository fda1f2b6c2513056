// Package image handles photo bytes: sniffing, decoding to OpenCV
// matrices with a pure-Go fallback, and PNG encoding for OCR engines.
package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"

	ocrerrors "idcard-ocr/internal/errors"
)

// RawImage is an undecoded photo.
type RawImage struct {
	Data     []byte
	Encoding string
}

// NewRawImage wraps bytes and sniffs their encoding.
func NewRawImage(data []byte) RawImage {
	return RawImage{Data: data, Encoding: Sniff(data)}
}

// ReadFile loads a photo from disk.
func ReadFile(path string) (RawImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawImage{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return NewRawImage(data), nil
}

// Sniff identifies the encoding from magic bytes. It returns "" when the
// format is not recognised.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return "png"
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte{'I', 'I', 42, 0}) || bytes.Equal(data[:4], []byte{'M', 'M', 0, 42})):
		return "tiff"
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "bmp"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp"
	}
	return ""
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".webp"}
}

// IsSupportedFormat checks if a file path has a supported image extension.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range SupportedFormats() {
		if ext == f {
			return true
		}
	}
	return false
}

// Decode returns a 3-channel BGR matrix. OpenCV is tried first; buffers it
// rejects go through image.Decode. Failure of both is an ImageDecodeError.
func Decode(raw RawImage) (gocv.Mat, error) {
	if len(raw.Data) == 0 {
		return gocv.NewMat(), ocrerrors.NewImageDecodeError(raw.Encoding, fmt.Errorf("empty buffer"))
	}

	mat, err := gocv.IMDecode(raw.Data, gocv.IMReadColor)
	if err == nil {
		if !mat.Empty() {
			return mat, nil
		}
		mat.Close()
	}

	img, format, derr := image.Decode(bytes.NewReader(raw.Data))
	if derr != nil {
		if err == nil {
			err = derr
		}
		return gocv.NewMat(), ocrerrors.NewImageDecodeError(raw.Encoding, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return gocv.NewMat(), ocrerrors.NewImageDecodeError(format, fmt.Errorf("zero-sized image"))
	}
	return ImageToMat(img), nil
}
