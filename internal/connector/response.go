package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/pkg/geometry"
)

// providerResponse is the JSON returned by remote providers. Older
// providers use "data", "id" and "name".
type providerResponse struct {
	Text       string          `json:"text"`
	Data       string          `json:"data"`
	IDNumber   json.RawMessage `json:"id_number"`
	ID         json.RawMessage `json:"id"`
	IDName     string          `json:"id_name"`
	Name       string          `json:"name"`
	Confidence json.RawMessage `json:"confidence"`
	Words      []providerWord  `json:"words"`
}

type providerWord struct {
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Box        *geometry.RectInt `json:"box,omitempty"`
	Line       int               `json:"line"`
}

// decodeResponse maps a provider body onto an attempt.
func decodeResponse(body []byte, cfg ocr.Config) (ocr.Attempt, error) {
	var r providerResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return ocr.Attempt{}, fmt.Errorf("invalid provider response: %w", err)
	}

	text := r.Text
	if text == "" {
		text = r.Data
	}
	att := ocr.Attempt{
		Text:   ocr.CleanText(text),
		Config: cfg,
	}

	hints := map[idcard.Field]string{}
	if id := firstScalar(r.IDNumber, r.ID); id != "" {
		hints[idcard.FieldIDNumber] = id
	}
	if name := firstNonEmpty(r.IDName, r.Name); name != "" {
		hints[idcard.FieldFullName] = name
	}
	if len(hints) > 0 {
		att.Hints = hints
	}

	for i, w := range r.Words {
		tok := ocr.Token{Text: w.Text, Confidence: w.Confidence, Line: w.Line, Word: i}
		if w.Box != nil {
			tok.Box = *w.Box
		}
		att.Tokens = append(att.Tokens, tok)
	}

	att.MeanConfidence = ocr.MeanConfidence(att.Tokens)
	if att.MeanConfidence == nil {
		if c, ok := scalarFloat(r.Confidence); ok {
			// Some providers report 0..1.
			if c > 0 && c <= 1 {
				c *= 100
			}
			att.MeanConfidence = &c
		}
	}
	return att, nil
}

// firstScalar returns the first value that is a non-empty string or a
// number. IDs are sometimes sent as JSON numbers.
func firstScalar(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func scalarFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
