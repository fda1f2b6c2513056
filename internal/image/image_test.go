package image

import (
	"bytes"
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"gocv.io/x/gocv"

	ocrerrors "idcard-ocr/internal/errors"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 0}, "png"},
		{"tiff le", []byte{'I', 'I', 42, 0}, "tiff"},
		{"bmp", []byte("BM...."), "bmp"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"text", []byte("hello"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	mat, err := Decode(NewRawImage(pngBytes(t, 40, 20)))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer mat.Close()
	if mat.Cols() != 40 || mat.Rows() != 20 || mat.Channels() != 3 {
		t.Errorf("decoded %dx%dx%d", mat.Cols(), mat.Rows(), mat.Channels())
	}
	// BGR order
	if b, r := mat.GetUCharAt(0, 0), mat.GetUCharAt(0, 2); b != 50 || r != 200 {
		t.Errorf("pixel b=%d r=%d", b, r)
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not an image at all")} {
		mat, err := Decode(NewRawImage(data))
		mat.Close()
		if !stderrors.Is(err, ocrerrors.ErrImageDecode) {
			t.Errorf("Decode(%q) error = %v, want IMAGE_DECODE_FAILED", data, err)
		}
	}
}

func TestMatImageRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	src.Set(3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	mat := ImageToMat(src)
	defer mat.Close()
	back, err := MatToImage(mat)
	if err != nil {
		t.Fatalf("MatToImage() error = %v", err)
	}
	if got := back.RGBAAt(3, 2); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("pixel = %v", got)
	}

	gray := ToGray(mat)
	defer gray.Close()
	if gray.Channels() != 1 {
		t.Errorf("ToGray channels = %d", gray.Channels())
	}
	bgr := ToBGR(gray)
	defer bgr.Close()
	if bgr.Channels() != 3 {
		t.Errorf("ToBGR channels = %d", bgr.Channels())
	}
}

func TestEncodePNG(t *testing.T) {
	mat := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer mat.Close()
	data, err := EncodePNG(mat)
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	if Sniff(data) != "png" {
		t.Error("output is not PNG")
	}
	if _, err := EncodePNG(gocv.NewMat()); err == nil {
		t.Error("empty mat encoded")
	}
}
