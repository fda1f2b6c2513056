// Package idcard holds the data model shared by the extraction stages:
// the six card fields, regions on the card, extracted values and the
// aggregate result.
package idcard

import (
	"idcard-ocr/pkg/geometry"
)

// Field names one of the six recognised card fields.
type Field string

const (
	FieldIDNumber     Field = "id_number"
	FieldFullName     Field = "full_name"
	FieldDOB          Field = "dob"
	FieldGender       Field = "gender"
	FieldNationality  Field = "nationality"
	FieldPlaceOfBirth Field = "place_of_birth"
)

// AllFields lists the fields in card reading order.
var AllFields = []Field{
	FieldIDNumber,
	FieldFullName,
	FieldDOB,
	FieldGender,
	FieldNationality,
	FieldPlaceOfBirth,
}

// ParseField converts a string to a Field.
func ParseField(s string) (Field, bool) {
	for _, f := range AllFields {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Kind selects the OCR configuration for a field.
type Kind int

const (
	KindText Kind = iota
	KindNumeric
)

func (k Kind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "text"
}

// Kind returns the OCR kind used to read the field.
func (f Field) Kind() Kind {
	if f == FieldIDNumber {
		return KindNumeric
	}
	return KindText
}

// Provenance records where a region came from.
type Provenance string

const (
	ProvenanceTemplate Provenance = "template"
	ProvenanceDetected Provenance = "detected"
	ProvenanceGrid     Provenance = "grid"
	ProvenancePage     Provenance = "page"
)

// Region is a candidate box on the normalized card. Grid regions carry
// no Field.
type Region struct {
	Field      Field            `json:"field,omitempty"`
	Box        geometry.RectInt `json:"box"`
	Quad       geometry.Quad    `json:"quad"`
	Provenance Provenance       `json:"provenance"`
	Hint       string           `json:"hint,omitempty"`
}
