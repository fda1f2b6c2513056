// Package fields turns OCR text into normalized field values.
package fields

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"idcard-ocr/internal/datecode"
	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	"idcard-ocr/internal/ocr"
)

// ID number length bounds.
const (
	MinIDDigits = 9
	MaxIDDigits = 12
)

var (
	digitRun        = regexp.MustCompile(`\d+`)
	punctSep        = regexp.MustCompile(`[.,/\-]+`)
	allSep          = regexp.MustCompile(`[\s.,/\-]+`)
	nonNameChars    = regexp.MustCompile(`[^\p{L}\s]+`)
	multiSpace      = regexp.MustCompile(`\s+`)
	wordSplitter    = regexp.MustCompile(`[\s,]+`)
	digitLookalikes = strings.NewReplacer("O", "0", "o", "0", "D", "0", "I", "1", "l", "1", "|", "1", "B", "8", "S", "5", "Z", "2")
)

// Parser extracts field values from OCR text. It is safe for concurrent
// use.
type Parser struct {
	labels *idcard.Labels
	dates  *datecode.Decoder
}

// NewParser creates a parser. Nil arguments select the default labels
// and a decoder on the wall clock.
func NewParser(labels *idcard.Labels, dates *datecode.Decoder) *Parser {
	if labels == nil {
		labels = idcard.DefaultLabels()
	}
	if dates == nil {
		dates = datecode.NewDecoder(nil)
	}
	return &Parser{labels: labels, dates: dates}
}

// Parse extracts one field from a region attempt. Malformed text yields
// the not-found form; the only error is an unknown field.
func (p *Parser) Parse(f idcard.Field, a ocr.Attempt) (idcard.ExtractedField, error) {
	if _, ok := idcard.ParseField(string(f)); !ok {
		return idcard.ExtractedField{}, ocrerrors.NewInvalidFieldError(string(f))
	}

	src := &idcard.Source{
		Connector:   a.Connector,
		Scale:       a.Scale,
		PageSegMode: a.Config.PageSegModeName(),
		RawText:     a.Text,
	}

	if hint := strings.TrimSpace(a.Hints[f]); hint != "" {
		if v := p.value(f, hint, false); v != "" {
			return idcard.NewExtractedField(f, v, a.MeanConfidence, src), nil
		}
	}
	return idcard.NewExtractedField(f, p.value(f, a.Text, false), a.MeanConfidence, src), nil
}

// ParsePage extracts every field from full-page text. Only label-anchored
// and pattern matches are accepted, since the page also carries headers
// and unrelated lines.
func (p *Parser) ParsePage(text string, conf *float64) map[idcard.Field]idcard.ExtractedField {
	out := make(map[idcard.Field]idcard.ExtractedField, len(idcard.AllFields))
	for _, f := range idcard.AllFields {
		out[f] = idcard.NewExtractedField(f, p.value(f, text, true), conf, nil)
	}
	return out
}

func (p *Parser) value(f idcard.Field, text string, page bool) string {
	lines := splitLines(text)
	if len(lines) == 0 {
		return ""
	}
	switch f {
	case idcard.FieldIDNumber:
		return p.idNumber(lines)
	case idcard.FieldFullName:
		return p.fullName(lines)
	case idcard.FieldDOB:
		return p.dob(lines)
	case idcard.FieldGender:
		return p.gender(lines, page)
	case idcard.FieldNationality:
		return p.nationality(lines)
	case idcard.FieldPlaceOfBirth:
		return p.placeOfBirth(lines, page)
	}
	return ""
}

func splitLines(text string) []string {
	cleaned := ocr.CleanText(text)
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "\n")
}

// labelValue returns the value introduced by a label of f, looking at the
// next line when the label stands alone.
func (p *Parser) labelValue(f idcard.Field, lines []string) (string, bool) {
	for i, line := range lines {
		v, ok := p.labels.Value(f, line)
		if !ok {
			continue
		}
		if v == "" && i+1 < len(lines) {
			if _, other := p.labels.Find(lines[i+1]); !other {
				v = lines[i+1]
			}
		}
		return v, true
	}
	return "", false
}

func (p *Parser) idNumber(lines []string) string {
	for _, line := range lines {
		if id := idRun(punctSep.ReplaceAllString(line, "")); id != "" {
			return id
		}
	}
	for _, line := range lines {
		if id := idRun(allSep.ReplaceAllString(line, "")); id != "" {
			return id
		}
	}
	// Letters misread inside the number after an explicit label.
	if v, ok := p.labelValue(idcard.FieldIDNumber, lines); ok && v != "" {
		fixed := allSep.ReplaceAllString(digitLookalikes.Replace(v), "")
		if id := idRun(fixed); id != "" {
			return id
		}
	}
	return ""
}

// idRun returns the first maximal digit run of an acceptable length.
// Longer runs are skipped rather than truncated.
func idRun(s string) string {
	for _, run := range digitRun.FindAllString(s, -1) {
		if len(run) >= MinIDDigits && len(run) <= MaxIDDigits {
			return run
		}
	}
	return ""
}

func (p *Parser) fullName(lines []string) string {
	if v, ok := p.labelValue(idcard.FieldFullName, lines); ok {
		if name := cleanName(v); name != "" {
			return name
		}
	}

	best, bestWords := "", 0
	for _, line := range lines {
		if strings.ContainsFunc(line, unicode.IsDigit) {
			continue
		}
		if p.hasLabel(line) || idcard.IsHeader(line) {
			continue
		}
		words := alphaWords(line)
		if words >= 2 && words > bestWords {
			best, bestWords = line, words
		}
	}
	return cleanName(best)
}

func (p *Parser) hasLabel(line string) bool {
	_, ok := p.labels.Find(line)
	return ok
}

func alphaWords(line string) int {
	n := 0
	for _, w := range wordSplitter.Split(line, -1) {
		if len([]rune(w)) >= 2 && !strings.ContainsFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }) {
			n++
		}
	}
	return n
}

// cleanName strips everything but letters and spaces and title-cases the
// result.
func cleanName(s string) string {
	s = nonNameChars.ReplaceAllString(s, " ")
	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
	if s == "" {
		return ""
	}
	return cases.Title(language.Vietnamese).String(s)
}

func (p *Parser) dob(lines []string) string {
	if v, ok := p.labelValue(idcard.FieldDOB, lines); ok {
		if d, ok := p.dates.Normalize(v); ok {
			return d
		}
	}
	if _, d := p.dates.Extract(strings.Join(lines, "\n")); d != nil {
		return d.String()
	}
	return ""
}

func (p *Parser) gender(lines []string, page bool) string {
	v, labelled := p.labelValue(idcard.FieldGender, lines)
	if page && !labelled {
		// Names end in "Nam" too.
		return ""
	}
	search := []string{v}
	if !labelled {
		search = search[:0]
		for _, line := range lines {
			// "Nam" also ends the country name.
			if !idcard.IsHeader(line) && !mentionsVietnam(line) {
				search = append(search, line)
			}
		}
	}
	for _, line := range search {
		for _, w := range strings.FieldsFunc(idcard.Fold(line), func(r rune) bool { return !unicode.IsLetter(r) }) {
			switch w {
			case "nu", "female":
				return "Nữ"
			case "nam", "male":
				return "Nam"
			}
		}
	}
	if labelled {
		return v
	}
	return strings.Join(lines, " ")
}

func mentionsVietnam(line string) bool {
	folded := idcard.Fold(line)
	return strings.Contains(folded, "viet nam") || strings.Contains(folded, "vietnam")
}

func (p *Parser) nationality(lines []string) string {
	for _, line := range lines {
		if mentionsVietnam(line) {
			// The header "CỘNG HÒA XÃ HỘI CHỦ NGHĨA VIỆT NAM" is not a nationality.
			if idcard.IsHeader(line) {
				continue
			}
			return "Việt Nam"
		}
	}
	v, _ := p.labelValue(idcard.FieldNationality, lines)
	return v
}

func (p *Parser) placeOfBirth(lines []string, page bool) string {
	if v, ok := p.labelValue(idcard.FieldPlaceOfBirth, lines); ok {
		return v
	}
	if page {
		return ""
	}
	return strings.Join(lines, ", ")
}
