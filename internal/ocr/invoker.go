package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/preprocess"
)

// Runner executes one OCR call on PNG bytes. The connector registry is
// the production Runner.
type Runner interface {
	Run(ctx context.Context, png []byte, cfg Config) (Attempt, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, png []byte, cfg Config) (Attempt, error)

func (f RunnerFunc) Run(ctx context.Context, png []byte, cfg Config) (Attempt, error) {
	return f(ctx, png, cfg)
}

// InvokerOptions configures the scale ladder.
type InvokerOptions struct {
	Scales    []int
	Languages []string
	// Accept filters attempts per kind; rejected attempts never win.
	Accept map[idcard.Kind]func(Attempt) bool
}

// DefaultInvokerOptions returns the 1..4 ladder, Vietnamese plus English,
// and the 9-digit rule for numeric fields.
func DefaultInvokerOptions() InvokerOptions {
	return InvokerOptions{
		Scales:    []int{1, 2, 3, 4},
		Languages: []string{"vie", "eng"},
		Accept: map[idcard.Kind]func(Attempt) bool{
			idcard.KindNumeric: AcceptMinDigits(9),
		},
	}
}

// Invoker runs a region through the scale ladder and keeps the attempt
// with the highest mean confidence.
type Invoker struct {
	runner Runner
	opts   InvokerOptions
	log    zerolog.Logger
}

// NewInvoker creates an invoker.
func NewInvoker(runner Runner, opts InvokerOptions, log zerolog.Logger) *Invoker {
	if len(opts.Scales) == 0 {
		opts.Scales = DefaultInvokerOptions().Scales
	}
	if len(opts.Languages) == 0 {
		opts.Languages = DefaultInvokerOptions().Languages
	}
	return &Invoker{runner: runner, opts: opts, log: log}
}

// BestAttempt OCRs region at every scale and returns the most confident
// attempt. When no attempt has a confident token the result is empty with
// a nil mean and no error. Cancellation is checked between scales and
// returns the best attempt so far with the context error. If every call
// failed because no connector could run, that error is returned.
func (inv *Invoker) BestAttempt(ctx context.Context, region gocv.Mat, kind idcard.Kind) (Attempt, error) {
	if region.Empty() {
		return Attempt{}, fmt.Errorf("empty region")
	}

	cfg := ConfigFor(kind, inv.opts.Languages)
	accept := inv.opts.Accept[kind]

	var best Attempt
	var found bool
	var unavailable, calls int
	var lastErr error

	for _, scale := range inv.opts.Scales {
		if err := ctx.Err(); err != nil {
			return best, err
		}

		png, err := renderScale(region, scale)
		if err != nil {
			inv.log.Debug().Err(err).Int("scale", scale).Msg("render failed")
			continue
		}

		calls++
		att, err := inv.runner.Run(ctx, png, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return best, ctx.Err()
			}
			lastErr = err
			if errors.Is(err, ocrerrors.ErrOCRUnavailable) {
				unavailable++
			}
			inv.log.Debug().Err(err).Int("scale", scale).Str("kind", kind.String()).Msg("ocr attempt failed")
			continue
		}
		att.Scale = scale
		att.Image = png

		if accept != nil && !accept(att) {
			inv.log.Debug().Int("scale", scale).Str("text", att.Text).Msg("attempt rejected")
			continue
		}
		if att.MeanConfidence != nil && (!found || Better(att, best)) {
			best = att
			found = true
		}
	}

	if !found && calls > 0 && unavailable == calls {
		return Attempt{}, lastErr
	}
	if !found {
		return Attempt{Config: cfg}, nil
	}
	return best, nil
}

// renderScale upsamples the region scale-1 times, enhances it and
// encodes it as PNG.
func renderScale(region gocv.Mat, scale int) ([]byte, error) {
	cur := region.Clone()
	for i := 1; i < scale; i++ {
		up := gocv.NewMat()
		gocv.PyrUp(cur, &up, image.Point{}, gocv.BorderDefault)
		cur.Close()
		if up.Empty() {
			up.Close()
			return nil, fmt.Errorf("pyrUp failed at step %d", i)
		}
		cur = up
	}
	defer cur.Close()

	enhanced, _ := preprocess.Enhance(cur)
	defer enhanced.Close()
	return imgutil.EncodePNG(enhanced)
}
