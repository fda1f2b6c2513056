// Package ocr wraps Tesseract and implements the multi-scale search that
// keeps the most confident reading of a field crop.
package ocr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/pkg/geometry"
)

// Engine provides OCR functionality using one Tesseract client. It is
// not safe for concurrent use; see EnginePool.
type Engine struct {
	client    *gosseract.Client
	kind      idcard.Kind
	languages []string
}

// NewEngine creates a Tesseract client for the given languages. Numeric
// engines run without dictionaries so that digit runs are not "corrected"
// into words.
func NewEngine(languages []string, kind idcard.Kind) (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	_ = client.SetVariable("tessedit_ocr_engine_mode", strconv.Itoa(EngineModeLSTM))
	if kind == idcard.KindNumeric {
		_ = client.SetVariable("load_system_dawg", "false")
		_ = client.SetVariable("load_freq_dawg", "false")
		_ = client.SetVariable("language_model_penalty_non_dict_word", "0")
		_ = client.SetVariable("language_model_penalty_non_freq_dict_word", "0")
	}

	return &Engine{
		client:    client,
		kind:      kind,
		languages: languages,
	}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Kind returns the field kind the engine was configured for.
func (e *Engine) Kind() idcard.Kind {
	return e.kind
}

// Recognize runs OCR on PNG bytes and returns text plus word tokens.
func (e *Engine) Recognize(png []byte, cfg Config) (Attempt, error) {
	if len(png) == 0 {
		return Attempt{}, fmt.Errorf("empty image")
	}

	if err := e.client.SetPageSegMode(cfg.PageSegMode); err != nil {
		return Attempt{}, fmt.Errorf("failed to set PSM: %w", err)
	}
	// An empty whitelist clears a previous one.
	if err := e.client.SetWhitelist(cfg.Whitelist); err != nil {
		return Attempt{}, fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := e.client.SetImageFromBytes(png); err != nil {
		return Attempt{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return Attempt{}, fmt.Errorf("OCR failed: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxesVerbose()
	if err != nil {
		return Attempt{}, fmt.Errorf("failed to get boxes: %w", err)
	}

	tokens := make([]Token, 0, len(boxes))
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{
			Text:       word,
			Confidence: box.Confidence,
			Box:        geometry.FromImageRect(box.Box),
			Block:      box.BlockNum,
			Par:        box.ParNum,
			Line:       box.LineNum,
			Word:       box.WordNum,
		})
	}

	return Attempt{
		Text:           CleanText(text),
		Tokens:         tokens,
		MeanConfidence: MeanConfidence(tokens),
		Config:         cfg,
	}, nil
}

// Version returns the Tesseract library version.
func Version() string {
	return gosseract.Version()
}
