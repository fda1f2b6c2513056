package ocr

import (
	"sort"
	"strings"
	"unicode"

	"idcard-ocr/pkg/geometry"
)

// Line is a group of tokens sharing block, paragraph and line numbers.
type Line struct {
	Block  int
	Par    int
	Line   int
	Tokens []Token
	Text   string
	Box    geometry.RectInt
}

// GroupLines groups tokens into lines and orders them top to bottom.
func GroupLines(tokens []Token) []Line {
	type key struct{ b, p, l int }
	index := make(map[key]int)
	var lines []Line

	for _, t := range tokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		k := key{t.Block, t.Par, t.Line}
		i, ok := index[k]
		if !ok {
			i = len(lines)
			index[k] = i
			lines = append(lines, Line{Block: t.Block, Par: t.Par, Line: t.Line})
		}
		lines[i].Tokens = append(lines[i].Tokens, t)
		lines[i].Box = lines[i].Box.Union(t.Box)
	}

	for i := range lines {
		sort.SliceStable(lines[i].Tokens, func(a, b int) bool {
			return lines[i].Tokens[a].Word < lines[i].Tokens[b].Word
		})
		words := make([]string, len(lines[i].Tokens))
		for j, t := range lines[i].Tokens {
			words[j] = strings.TrimSpace(t.Text)
		}
		lines[i].Text = strings.Join(words, " ")
	}

	sort.SliceStable(lines, func(a, b int) bool {
		return lines[a].Box.Y < lines[b].Box.Y
	})
	return lines
}

// MeanConfidence averages the line's token confidences.
func (l Line) MeanConfidence() *float64 {
	return MeanConfidence(l.Tokens)
}

// DigitRatio is the fraction of non-space characters that are digits.
func (l Line) DigitRatio() float64 {
	var digits, total int
	for _, r := range l.Text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}

// HasDigits reports whether the line contains any digit.
func (l Line) HasDigits() bool {
	return CountDigits(l.Text) > 0
}

// AlphaWords counts words made only of letters.
func (l Line) AlphaWords() int {
	n := 0
	for _, w := range strings.Fields(l.Text) {
		alpha := true
		for _, r := range w {
			if !unicode.IsLetter(r) {
				alpha = false
				break
			}
		}
		if alpha {
			n++
		}
	}
	return n
}
