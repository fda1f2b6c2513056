package ocr

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	"idcard-ocr/pkg/geometry"
)

func conf(v float64) *float64 { return &v }

func TestMeanConfidence(t *testing.T) {
	tests := []struct {
		name   string
		tokens []Token
		want   *float64
	}{
		{"no tokens", nil, nil},
		{"only unknown", []Token{{Text: "a", Confidence: -1}}, nil},
		{"ignores -1", []Token{{Text: "a", Confidence: 80}, {Text: "b", Confidence: -1}, {Text: "c", Confidence: 60}}, conf(70)},
		{"ignores blank words", []Token{{Text: " ", Confidence: 0}, {Text: "x", Confidence: 90}}, conf(90)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MeanConfidence(tt.tokens)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("MeanConfidence() = %v, want nil", *got)
			case tt.want != nil && (got == nil || math.Abs(*got-*tt.want) > 1e-9):
				t.Errorf("MeanConfidence() = %v, want %v", got, *tt.want)
			}
		})
	}
}

func TestBetter(t *testing.T) {
	none := Attempt{}
	low := Attempt{MeanConfidence: conf(40)}
	high := Attempt{MeanConfidence: conf(80)}
	tests := []struct {
		name string
		a, b Attempt
		want bool
	}{
		{"number beats nil", low, none, true},
		{"nil never beats number", none, low, false},
		{"higher wins", high, low, true},
		{"tie keeps incumbent", Attempt{MeanConfidence: conf(40)}, low, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Better(tt.a, tt.b); got != tt.want {
				t.Errorf("Better() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupLines(t *testing.T) {
	tokens := []Token{
		{Text: "NGUYỄN", Block: 1, Par: 1, Line: 2, Word: 1, Box: geometry.RectInt{X: 10, Y: 50, Width: 60, Height: 12}},
		{Text: "Số:", Block: 1, Par: 1, Line: 1, Word: 1, Box: geometry.RectInt{X: 10, Y: 10, Width: 20, Height: 12}},
		{Text: "VĂN", Block: 1, Par: 1, Line: 2, Word: 2, Box: geometry.RectInt{X: 80, Y: 50, Width: 40, Height: 12}},
		{Text: "001099012345", Block: 1, Par: 1, Line: 1, Word: 2, Box: geometry.RectInt{X: 40, Y: 10, Width: 120, Height: 12}},
		{Text: " ", Block: 1, Par: 1, Line: 3, Word: 1},
	}
	lines := GroupLines(tokens)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Text != "Số: 001099012345" {
		t.Errorf("line 0 = %q", lines[0].Text)
	}
	if lines[1].Text != "NGUYỄN VĂN" {
		t.Errorf("line 1 = %q", lines[1].Text)
	}
	if want := (geometry.RectInt{X: 10, Y: 50, Width: 110, Height: 12}); lines[1].Box != want {
		t.Errorf("line 1 box = %+v, want %+v", lines[1].Box, want)
	}
	if lines[0].DigitRatio() < 0.25 || lines[1].HasDigits() || lines[1].AlphaWords() != 2 {
		t.Error("line classification helpers disagree")
	}
}

func TestTextSimilarity(t *testing.T) {
	if got := TextSimilarity("NGUYỄN VĂN AN", "Nguyễn Văn An"); got != 1.0 {
		t.Errorf("case-insensitive match = %v, want 1", got)
	}
	if got := TextSimilarity("", "abc"); got != 0 {
		t.Errorf("empty detection = %v, want 0", got)
	}
	near := TextSimilarity("001099012346", "001099012345")
	far := TextSimilarity("HELLO", "001099012345")
	if near <= far || near >= 1 {
		t.Errorf("near = %v far = %v", near, far)
	}
	accent := TextSimilarity("NGUYEN VAN AN", "NGUYỄN VĂN AN")
	if accent >= 1 || accent < 0.5 {
		t.Errorf("missing diacritics = %v", accent)
	}
}

func region() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 30, 120, gocv.MatTypeCV8UC3)
}

// scripted returns the attempts in call order.
func scripted(attempts ...Attempt) (Runner, *int) {
	calls := 0
	return RunnerFunc(func(ctx context.Context, png []byte, cfg Config) (Attempt, error) {
		i := calls
		calls++
		if len(png) == 0 {
			return Attempt{}, fmt.Errorf("no image")
		}
		if i >= len(attempts) {
			return Attempt{}, nil
		}
		return attempts[i], nil
	}), &calls
}

func TestBestAttempt(t *testing.T) {
	tests := []struct {
		name      string
		kind      idcard.Kind
		attempts  []Attempt
		wantText  string
		wantScale int
		wantNil   bool
	}{
		{
			name:      "highest mean wins, ties keep first",
			kind:      idcard.KindText,
			attempts:  []Attempt{{Text: "a", MeanConfidence: conf(50)}, {Text: "b", MeanConfidence: conf(80)}, {Text: "c", MeanConfidence: conf(80)}},
			wantText:  "b",
			wantScale: 2,
		},
		{
			name:      "nil mean never wins",
			kind:      idcard.KindText,
			attempts:  []Attempt{{Text: "junk"}, {Text: "ok", MeanConfidence: conf(10)}, {Text: "junk2"}},
			wantText:  "ok",
			wantScale: 2,
		},
		{
			name:     "all unconfident gives empty result",
			kind:     idcard.KindText,
			attempts: []Attempt{{Text: "x"}, {Text: "y"}, {Text: "z"}},
			wantNil:  true,
		},
		{
			name:      "numeric needs nine digits",
			kind:      idcard.KindNumeric,
			attempts:  []Attempt{{Text: "1234", MeanConfidence: conf(95)}, {Text: "001099012345", MeanConfidence: conf(70)}, {Text: "12", MeanConfidence: conf(99)}},
			wantText:  "001099012345",
			wantScale: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, calls := scripted(tt.attempts...)
			inv := NewInvoker(runner, InvokerOptions{
				Scales: []int{1, 2, 3},
				Accept: DefaultInvokerOptions().Accept,
			}, zerolog.Nop())

			r := region()
			defer r.Close()
			got, err := inv.BestAttempt(context.Background(), r, tt.kind)
			if err != nil {
				t.Fatalf("BestAttempt() error = %v", err)
			}
			if *calls != 3 {
				t.Errorf("runner called %d times, want 3", *calls)
			}
			if tt.wantNil {
				if got.MeanConfidence != nil || got.Text != "" {
					t.Errorf("got %q/%v, want empty", got.Text, got.MeanConfidence)
				}
				return
			}
			if got.Text != tt.wantText || got.Scale != tt.wantScale {
				t.Errorf("got %q at scale %d, want %q at %d", got.Text, got.Scale, tt.wantText, tt.wantScale)
			}
			if len(got.Image) == 0 {
				t.Error("winning image not kept")
			}
		})
	}
}

func TestBestAttemptCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := RunnerFunc(func(ctx context.Context, png []byte, cfg Config) (Attempt, error) {
		cancel()
		return Attempt{Text: "first", MeanConfidence: conf(40)}, nil
	})
	inv := NewInvoker(runner, InvokerOptions{Scales: []int{1, 2, 3, 4}}, zerolog.Nop())

	r := region()
	defer r.Close()
	got, err := inv.BestAttempt(ctx, r, idcard.KindText)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got.Text != "first" || got.Scale != 1 {
		t.Errorf("partial best = %q at %d", got.Text, got.Scale)
	}
}

func TestBestAttemptUnavailable(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, png []byte, cfg Config) (Attempt, error) {
		return Attempt{}, ocrerrors.NewOCRUnavailableError([]string{"local"}, nil)
	})
	inv := NewInvoker(runner, InvokerOptions{Scales: []int{1, 2}}, zerolog.Nop())

	r := region()
	defer r.Close()
	_, err := inv.BestAttempt(context.Background(), r, idcard.KindText)
	if !stderrors.Is(err, ocrerrors.ErrOCRUnavailable) {
		t.Errorf("err = %v, want OCR_UNAVAILABLE", err)
	}
}

func TestConfigFor(t *testing.T) {
	num := ConfigFor(idcard.KindNumeric, []string{"vie", "eng"})
	if num.Whitelist != DigitChars || num.PageSegModeName() != "single_line" {
		t.Errorf("numeric config = %+v", num)
	}
	txt := ConfigFor(idcard.KindText, []string{"vie", "eng"})
	if txt.Whitelist != "" || txt.PageSegModeName() != "single_block" || txt.LanguageString() != "vie+eng" {
		t.Errorf("text config = %+v", txt)
	}
}
