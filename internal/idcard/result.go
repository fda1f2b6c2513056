package idcard

import (
	"encoding/json"
	"fmt"
	"time"

	"idcard-ocr/pkg/geometry"
)

// Source describes how a field value was obtained.
type Source struct {
	Connector   string           `json:"connector"`
	Scale       int              `json:"scale"`
	Provenance  Provenance       `json:"provenance"`
	Box         geometry.RectInt `json:"box"`
	PageSegMode string           `json:"page_seg_mode,omitempty"`
	RawText     string           `json:"raw_text,omitempty"`
}

// ExtractedField is the parsed value of one field. Value and Confidence
// are both nil when nothing was found.
type ExtractedField struct {
	Field      Field    `json:"-"`
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
	Source     *Source  `json:"source,omitempty"`
}

// NewExtractedField builds a field with a value. An empty value yields
// the not-found form.
func NewExtractedField(f Field, value string, confidence *float64, src *Source) ExtractedField {
	if value == "" {
		return ExtractedField{Field: f, Source: src}
	}
	v := value
	var c *float64
	if confidence != nil {
		cv := *confidence
		c = &cv
	}
	return ExtractedField{Field: f, Value: &v, Confidence: c, Source: src}
}

// Found reports whether the field has a value.
func (e ExtractedField) Found() bool {
	return e.Value != nil && *e.Value != ""
}

// String returns the value or the empty string.
func (e ExtractedField) String() string {
	if e.Value == nil {
		return ""
	}
	return *e.Value
}

// Score returns the confidence or -1 when unknown.
func (e ExtractedField) Score() float64 {
	if e.Confidence == nil {
		return -1
	}
	return *e.Confidence
}

// Better reports whether e should replace other as the value for a field.
// A found value beats a missing one; a known confidence beats an unknown
// one; ties keep other.
func (e ExtractedField) Better(other ExtractedField) bool {
	if e.Found() != other.Found() {
		return e.Found()
	}
	return e.Score() > other.Score()
}

// CardMethod records how the card image was obtained.
type CardMethod string

const (
	CardContour    CardMethod = "contour"
	CardCenterCrop CardMethod = "center_crop"
)

// Status summarises a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result is the aggregate output of one pipeline run.
type Result struct {
	RunID     string
	Fields    map[Field]ExtractedField
	RawText   string
	Card      CardMethod
	Status    Status
	Verified  *bool
	Connector string
	Duration  time.Duration
}

// NewResult returns a result with every field present in the not-found
// form.
func NewResult(runID string) *Result {
	r := &Result{RunID: runID, Fields: make(map[Field]ExtractedField, len(AllFields))}
	for _, f := range AllFields {
		r.Fields[f] = ExtractedField{Field: f}
	}
	return r
}

// Get returns the extracted field, in the not-found form if absent.
func (r *Result) Get(f Field) ExtractedField {
	if e, ok := r.Fields[f]; ok {
		return e
	}
	return ExtractedField{Field: f}
}

// Offer stores e if it is better than the current value.
func (r *Result) Offer(e ExtractedField) bool {
	if r.Fields == nil {
		r.Fields = make(map[Field]ExtractedField)
	}
	cur, ok := r.Fields[e.Field]
	if ok && !e.Better(cur) {
		return false
	}
	r.Fields[e.Field] = e
	return true
}

// Missing lists the fields without a value, in card order.
func (r *Result) Missing() []Field {
	var out []Field
	for _, f := range AllFields {
		if !r.Get(f).Found() {
			out = append(out, f)
		}
	}
	return out
}

// ComputeStatus derives the run status: success when both the ID number
// and the name were read, failed when nothing was read, partial
// otherwise.
func (r *Result) ComputeStatus() Status {
	found := len(AllFields) - len(r.Missing())
	switch {
	case found == 0:
		return StatusFailed
	case r.Get(FieldIDNumber).Found() && r.Get(FieldFullName).Found():
		return StatusSuccess
	default:
		return StatusPartial
	}
}

// Verify compares the extracted ID number with an expected one and
// records the outcome. An empty expectation leaves Verified nil.
func (r *Result) Verify(expected string) {
	if expected == "" {
		r.Verified = nil
		return
	}
	ok := r.Get(FieldIDNumber).String() == expected
	r.Verified = &ok
}

// MeanConfidence averages the confidences of found fields.
func (r *Result) MeanConfidence() float64 {
	var sum float64
	var n int
	for _, f := range AllFields {
		e := r.Get(f)
		if e.Found() && e.Confidence != nil {
			sum += *e.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

type resultMeta struct {
	RunID      string     `json:"run_id"`
	RawText    string     `json:"raw_text"`
	Card       CardMethod `json:"card"`
	Status     Status     `json:"status"`
	Verified   *bool      `json:"verified,omitempty"`
	Connector  string     `json:"connector"`
	DurationMS int64      `json:"duration_ms"`
}

// MarshalJSON emits one top-level key per field next to the run metadata:
// {"id_number": {"value": "...", "confidence": 91.2}, ..., "run_id": ...}.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(AllFields)+7)
	for _, f := range AllFields {
		out[string(f)] = r.Get(f)
	}
	meta := resultMeta{
		RunID:      r.RunID,
		RawText:    r.RawText,
		Card:       r.Card,
		Status:     r.Status,
		Verified:   r.Verified,
		Connector:  r.Connector,
		DurationMS: r.Duration.Milliseconds(),
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var meta resultMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("result metadata: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = *NewResult(meta.RunID)
	r.RawText = meta.RawText
	r.Card = meta.Card
	r.Status = meta.Status
	r.Verified = meta.Verified
	r.Connector = meta.Connector
	r.Duration = time.Duration(meta.DurationMS) * time.Millisecond

	for _, f := range AllFields {
		b, ok := raw[string(f)]
		if !ok {
			continue
		}
		var e ExtractedField
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		e.Field = f
		r.Fields[f] = e
	}
	return nil
}
