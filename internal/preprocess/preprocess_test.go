package preprocess

import (
	"bytes"
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"gocv.io/x/gocv"

	ocrerrors "idcard-ocr/internal/errors"
	imgutil "idcard-ocr/internal/image"
)

var (
	white = gocv.NewScalar(255, 255, 255, 0)
	black = color.RGBA{A: 255}
)

// syntheticCard draws a few dark text-like bars on a white background.
func syntheticCard(w, h int) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(white, h, w, gocv.MatTypeCV8UC3)
	for i := 0; i < 4; i++ {
		y := h/6 + i*h/6
		gocv.Rectangle(&m, image.Rect(w/10, y, w/10+w/2, y+h/20), black, -1)
	}
	return m
}

func TestApplyPageOptions(t *testing.T) {
	src := syntheticCard(400, 250)
	defer src.Close()

	res, err := Apply(src, PageOptions())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer res.Close()

	if res.Mat.Channels() != 3 {
		t.Errorf("channels = %d, want 3", res.Mat.Channels())
	}
	if res.Scale != 2 || res.Mat.Cols() != 800 || res.Mat.Rows() != 500 {
		t.Errorf("scale %v size %dx%d, want 2 and 800x500", res.Scale, res.Mat.Cols(), res.Mat.Rows())
	}
	for _, step := range []string{StepUpscale, StepDenoise, StepContrast, StepDeskew, StepThreshold, StepMorph, StepSharpen} {
		if _, ok := res.Steps.Find(step); !ok {
			t.Errorf("missing report for %s", step)
		}
	}
	if r, _ := res.Steps.Find(StepThreshold); r.Status != StepApplied {
		t.Errorf("threshold status = %v", r.Status)
	}
}

func TestApplySkips(t *testing.T) {
	src := syntheticCard(1200, 760)
	defer src.Close()

	res, err := Apply(src, CardOptions())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer res.Close()

	tests := []struct {
		step string
		want StepStatus
	}{
		{StepUpscale, StepSkipped},
		{StepDenoise, StepApplied},
		{StepThreshold, StepSkipped},
		{StepMorph, StepSkipped},
		{StepSharpen, StepSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			r, ok := res.Steps.Find(tt.step)
			if !ok || r.Status != tt.want {
				t.Errorf("report = %+v, want %v", r, tt.want)
			}
		})
	}
	if res.Scale != 1 || res.Mat.Cols() != 1200 {
		t.Errorf("scale %v width %d", res.Scale, res.Mat.Cols())
	}
}

func TestPreprocessDecodeError(t *testing.T) {
	_, err := Preprocess(imgutil.NewRawImage([]byte("garbage")), PageOptions())
	if !stderrors.Is(err, ocrerrors.ErrImageDecode) {
		t.Errorf("Preprocess() error = %v, want IMAGE_DECODE_FAILED", err)
	}
}

func TestPreprocessReportsDecode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 120, 80))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	res, err := Preprocess(imgutil.NewRawImage(buf.Bytes()), CardOptions())
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	defer res.Close()
	if res.Steps[0].Step != StepDecode || res.Steps[0].Reason != "png" {
		t.Errorf("first report = %+v", res.Steps[0])
	}
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-90, 0},
		{-80, -10},
		{-10, 10},
		{0, 0},
		{10, -10},
		{80, 10},
		{90, 0},
	}
	for _, tt := range tests {
		if got := NormalizeAngle(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func rotatedRect(w, h int, angle float64) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	cx, cy := float64(w)/2, float64(h)/2
	hw, hh := float64(w)/4, float64(h)/4
	rad := angle * math.Pi / 180
	var pts []image.Point
	for _, c := range [][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}} {
		x := c[0]*math.Cos(rad) - c[1]*math.Sin(rad)
		y := c[0]*math.Sin(rad) + c[1]*math.Cos(rad)
		pts = append(pts, image.Point{X: int(math.Round(cx + x)), Y: int(math.Round(cy + y))})
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&m, pv, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	return m
}

func TestEstimateSkew(t *testing.T) {
	tilted := rotatedRect(600, 400, 8)
	defer tilted.Close()
	angle, ok, reason := EstimateSkew(tilted)
	if !ok {
		t.Fatalf("EstimateSkew() not ok: %s", reason)
	}
	if math.Abs(math.Abs(angle)-8) > 1.5 {
		t.Errorf("angle = %.2f, want magnitude ~8", angle)
	}

	straight := rotatedRect(600, 400, 0)
	defer straight.Close()
	if _, ok, _ := EstimateSkew(straight); ok {
		t.Error("axis-aligned rectangle reported skew")
	}
}

func TestEnhance(t *testing.T) {
	crop := syntheticCard(200, 40)
	defer crop.Close()

	out, reports := Enhance(crop)
	defer out.Close()
	if out.Channels() != 3 || out.Cols() != 200 || out.Rows() != 40 {
		t.Errorf("Enhance() output %dx%dx%d", out.Cols(), out.Rows(), out.Channels())
	}
	for _, step := range []string{StepContrast, StepBilateral, StepThreshold, StepMorph, StepUnsharp} {
		if r, ok := reports.Find(step); !ok || r.Status == StepFailed {
			t.Errorf("step %s = %+v", step, r)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	o := PageOptions()
	o.MorphKernel = 5
	if o.Validate() == nil {
		t.Error("kernel 5 accepted")
	}
	o = PageOptions()
	o.UpscaleBelow = 0
	if o.Validate() == nil {
		t.Error("zero upscale threshold accepted")
	}
}
