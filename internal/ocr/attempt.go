package ocr

import (
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/pkg/geometry"
)

// Token is one recognised word. Confidence is 0..100, or -1 when the
// engine reported none.
type Token struct {
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	Box        geometry.RectInt `json:"box"`
	Block      int              `json:"block"`
	Par        int              `json:"par"`
	Line       int              `json:"line"`
	Word       int              `json:"word"`
}

// Attempt is the outcome of one OCR call.
type Attempt struct {
	Text           string
	Tokens         []Token
	MeanConfidence *float64
	Scale          int
	Config         Config
	Connector      string
	// Hints carries field values returned directly by remote providers.
	Hints map[idcard.Field]string
	// Image is the PNG that was recognised.
	Image []byte
}

// Empty reports whether the attempt produced no text.
func (a Attempt) Empty() bool {
	return strings.TrimSpace(a.Text) == "" && len(a.Hints) == 0
}

// MeanConfidence averages token confidences, ignoring negative values.
// It returns nil when no token carries a confidence.
func MeanConfidence(tokens []Token) *float64 {
	vals := make([]float64, 0, len(tokens))
	for _, t := range tokens {
		if t.Confidence >= 0 && strings.TrimSpace(t.Text) != "" {
			vals = append(vals, t.Confidence)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	m := stat.Mean(vals, nil)
	return &m
}

// Better reports whether a beats b. A nil mean never beats a number and
// ties keep b.
func Better(a, b Attempt) bool {
	if a.MeanConfidence == nil {
		return false
	}
	if b.MeanConfidence == nil {
		return true
	}
	return *a.MeanConfidence > *b.MeanConfidence
}

// CountDigits returns the number of decimal digits in s.
func CountDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// AcceptMinDigits accepts attempts with at least n digits.
func AcceptMinDigits(n int) func(Attempt) bool {
	return func(a Attempt) bool {
		return CountDigits(a.Text) >= n
	}
}

// CleanText trims and collapses whitespace on each line, dropping empty
// lines.
func CleanText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if f := strings.Join(strings.Fields(l), " "); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, "\n")
}
