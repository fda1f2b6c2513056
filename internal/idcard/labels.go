package idcard

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/unicode/norm"
)

// Labels maps each field to the printed labels that introduce it on the
// card. Matching ignores case and Vietnamese diacritics.
type Labels struct {
	byField map[Field][]string
	folded  []foldedLabel
}

type foldedLabel struct {
	field Field
	text  string
}

// DefaultLabels returns the labels printed on current and legacy cards,
// in Vietnamese and English.
func DefaultLabels() *Labels {
	return NewLabels(map[Field][]string{
		FieldIDNumber:     {"Số định danh cá nhân", "Số định danh", "Số CCCD", "Số CMND", "Số", "No."},
		FieldFullName:     {"Họ và tên", "Họ tên", "Full name", "Name"},
		FieldDOB:          {"Ngày, tháng, năm sinh", "Ngày sinh", "Date of birth", "DOB"},
		FieldGender:       {"Giới tính", "Sex", "GT"},
		FieldNationality:  {"Quốc tịch", "Nationality"},
		FieldPlaceOfBirth: {"Quê quán", "Nơi sinh", "Place of origin", "Place of birth"},
	})
}

// NewLabels builds a label set. Longer labels are tried first so that
// "Số định danh" wins over "Số".
func NewLabels(m map[Field][]string) *Labels {
	l := &Labels{byField: make(map[Field][]string, len(m))}
	for _, f := range labelOrder(m) {
		list := m[f]
		l.byField[f] = append([]string(nil), list...)
		for _, s := range list {
			if fs := Fold(s); fs != "" {
				l.folded = append(l.folded, foldedLabel{field: f, text: fs})
			}
		}
	}
	sort.SliceStable(l.folded, func(i, j int) bool {
		return len(l.folded[i].text) > len(l.folded[j].text)
	})
	return l
}

// labelOrder lists the fields of m in card reading order, followed by any
// others sorted by name, so equal-length labels always match the same way.
func labelOrder(m map[Field][]string) []Field {
	out := make([]Field, 0, len(m))
	known := make(map[Field]bool, len(AllFields))
	for _, f := range AllFields {
		known[f] = true
		if _, ok := m[f]; ok {
			out = append(out, f)
		}
	}
	var rest []Field
	for f := range m {
		if !known[f] {
			rest = append(rest, f)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// For returns the labels configured for a field.
func (l *Labels) For(f Field) []string {
	return l.byField[f]
}

// LabelMatch locates a label inside a line. Start and End are byte
// offsets into the original line.
type LabelMatch struct {
	Field Field
	Start int
	End   int
}

// Find returns the longest label present in the line, over all fields.
func (l *Labels) Find(line string) (LabelMatch, bool) {
	folded, idx := foldIndexed(line)
	for _, lb := range l.folded {
		if s, ok := wordIndex(folded, lb.text); ok {
			return LabelMatch{Field: lb.field, Start: idx[s], End: idx[s+len(lb.text)]}, true
		}
	}
	return LabelMatch{}, false
}

// FindField returns the longest label of f present in the line.
func (l *Labels) FindField(f Field, line string) (LabelMatch, bool) {
	folded, idx := foldIndexed(line)
	for _, lb := range l.folded {
		if lb.field != f {
			continue
		}
		if s, ok := wordIndex(folded, lb.text); ok {
			return LabelMatch{Field: f, Start: idx[s], End: idx[s+len(lb.text)]}, true
		}
	}
	return LabelMatch{}, false
}

// Value returns the text following a label of f in the line, with
// leading separators removed. ok is false when no label is present.
func (l *Labels) Value(f Field, line string) (string, bool) {
	m, ok := l.FindField(f, line)
	if !ok {
		return "", false
	}
	rest := line[m.End:]
	// Bilingual cards print "Họ và tên / Full name:"; skip the second label.
	trimmed := strings.TrimLeft(rest, " \t/")
	if m2, ok := l.FindField(f, trimmed); ok && m2.Start == 0 {
		rest = trimmed[m2.End:]
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " \t:-./|")), true
}

// headerPhrases are printed in the card header, never in a field value.
var headerPhrases = []string{
	"cong hoa", "chu nghia", "doc lap", "hanh phuc",
	"can cuoc", "chung minh", "socialist", "republic", "citizen", "identity",
}

// IsHeader reports whether line belongs to the printed card header
// (country name, motto or card title).
func IsHeader(line string) bool {
	folded := Fold(line)
	for _, h := range headerPhrases {
		if _, ok := wordIndex(folded, h); ok {
			return true
		}
	}
	return false
}

// Fold lowercases s and strips diacritics, mapping đ to d.
func Fold(s string) string {
	f, _ := foldIndexed(s)
	return f
}

var marks = runes.In(unicode.Mn)

func foldRune(r rune) string {
	switch r {
	case 'đ', 'Đ':
		return "d"
	}
	if marks.Contains(r) {
		return ""
	}
	var b strings.Builder
	for _, d := range norm.NFD.String(string(r)) {
		if !marks.Contains(d) {
			b.WriteRune(unicode.ToLower(d))
		}
	}
	return b.String()
}

// foldIndexed folds s rune by rune so that every byte of the result maps
// back to a byte offset of s. idx has len(folded)+1 entries.
func foldIndexed(s string) (string, []int) {
	var b strings.Builder
	idx := make([]int, 0, len(s)+1)
	for i, r := range s {
		if r == utf8.RuneError {
			continue
		}
		fr := foldRune(r)
		for j := 0; j < len(fr); j++ {
			idx = append(idx, i)
		}
		b.WriteString(fr)
	}
	idx = append(idx, len(s))
	return b.String(), idx
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordIndex finds needle in haystack at word boundaries.
func wordIndex(haystack, needle string) (int, bool) {
	from := 0
	for from <= len(haystack)-len(needle) {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return 0, false
		}
		i += from
		end := i + len(needle)
		startOK := i == 0
		if !startOK {
			r, _ := utf8.DecodeLastRuneInString(haystack[:i])
			startOK = !isWordRune(r)
		}
		endOK := end == len(haystack)
		if !endOK {
			r, _ := utf8.DecodeRuneInString(haystack[end:])
			last, _ := utf8.DecodeLastRuneInString(needle)
			endOK = !isWordRune(r) || !isWordRune(last)
		}
		if startOK && endOK {
			return i, true
		}
		_, size := utf8.DecodeRuneInString(haystack[i:])
		from = i + size
	}
	return 0, false
}
