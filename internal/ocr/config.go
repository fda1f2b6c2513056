package ocr

import (
	"strings"

	"github.com/otiai10/gosseract/v2"

	"idcard-ocr/internal/idcard"
)

// DigitChars is the whitelist for numeric fields.
const DigitChars = "0123456789"

// EngineModeLSTM selects the neural recognizer.
const EngineModeLSTM = 1

// Config is the per-call OCR configuration.
type Config struct {
	Kind        idcard.Kind
	PageSegMode gosseract.PageSegMode
	Whitelist   string
	Languages   []string
	EngineMode  int
}

// ConfigFor returns the configuration for a field kind: numeric fields
// are read as a single line of digits, text fields as a block.
func ConfigFor(kind idcard.Kind, languages []string) Config {
	cfg := Config{
		Kind:        kind,
		PageSegMode: gosseract.PSM_SINGLE_BLOCK,
		Languages:   languages,
		EngineMode:  EngineModeLSTM,
	}
	if kind == idcard.KindNumeric {
		cfg.PageSegMode = gosseract.PSM_SINGLE_LINE
		cfg.Whitelist = DigitChars
	}
	return cfg
}

// PageConfig returns the configuration for the full-page pass.
func PageConfig(languages []string) Config {
	return ConfigFor(idcard.KindText, languages)
}

// PageSegModeName returns a short name for logs and result metadata.
func (c Config) PageSegModeName() string {
	switch c.PageSegMode {
	case gosseract.PSM_SINGLE_LINE:
		return "single_line"
	case gosseract.PSM_SINGLE_BLOCK:
		return "single_block"
	case gosseract.PSM_SPARSE_TEXT:
		return "sparse_text"
	case gosseract.PSM_AUTO:
		return "auto"
	default:
		return "psm"
	}
}

// LanguageString joins languages the way Tesseract expects ("vie+eng").
func (c Config) LanguageString() string {
	return strings.Join(c.Languages, "+")
}
