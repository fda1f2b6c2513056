// Package preprocess cleans photos and field crops before OCR. Every step
// is fail-soft: a step that cannot run leaves its input unchanged and
// records why in the step reports.
package preprocess

import (
	"fmt"
	"strings"
)

// MorphOp selects the morphological operation after thresholding.
type MorphOp int

const (
	MorphNone MorphOp = iota
	MorphOpen
	MorphClose
)

func (m MorphOp) String() string {
	switch m {
	case MorphOpen:
		return "open"
	case MorphClose:
		return "close"
	default:
		return "none"
	}
}

// Options selects the preprocessing steps.
type Options struct {
	// Upscale by 2x when the longer edge is below UpscaleBelow pixels.
	Upscale      bool
	UpscaleBelow int

	Denoise  bool
	Contrast bool
	Deskew   bool

	Threshold   bool
	Morph       MorphOp
	MorphKernel int

	Sharpen bool
}

// PageOptions runs every step. Used on the card before full-page OCR.
func PageOptions() Options {
	return Options{
		Upscale:      true,
		UpscaleBelow: 1000,
		Denoise:      true,
		Contrast:     true,
		Deskew:       true,
		Threshold:    true,
		Morph:        MorphClose,
		MorphKernel:  3,
		Sharpen:      true,
	}
}

// CardOptions keeps the photo continuous-tone so that card edges survive
// for contour detection.
func CardOptions() Options {
	return Options{
		Upscale:      true,
		UpscaleBelow: 1000,
		Denoise:      true,
		Contrast:     true,
	}
}

// Validate checks option consistency.
func (o Options) Validate() error {
	if o.Upscale && o.UpscaleBelow <= 0 {
		return fmt.Errorf("upscale threshold must be positive, got %d", o.UpscaleBelow)
	}
	if o.Morph != MorphNone && o.MorphKernel != 1 && o.MorphKernel != 3 {
		return fmt.Errorf("morph kernel must be 1 or 3, got %d", o.MorphKernel)
	}
	return nil
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepApplied  StepStatus = "applied"
	StepSkipped  StepStatus = "skipped"
	StepFallback StepStatus = "fallback"
	StepFailed   StepStatus = "failed"
)

// StepReport records what a step did.
type StepReport struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

func (r StepReport) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%s:%s", r.Step, r.Status)
	}
	return fmt.Sprintf("%s:%s (%s)", r.Step, r.Status, r.Reason)
}

// Reports is the ordered list of step outcomes.
type Reports []StepReport

func (rs *Reports) add(step string, status StepStatus, reason string) {
	*rs = append(*rs, StepReport{Step: step, Status: status, Reason: reason})
}

func (rs Reports) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// Find returns the report for a step.
func (rs Reports) Find(step string) (StepReport, bool) {
	for _, r := range rs {
		if r.Step == step {
			return r, true
		}
	}
	return StepReport{}, false
}
