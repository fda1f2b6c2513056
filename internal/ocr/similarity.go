package ocr

import (
	"strings"
	"unicode"
)

// TextSimilarity scores detected text against ground truth from 0 (no
// match) to 1 (identical after normalization). It blends the longest
// common subsequence, character overlap, per-line matching and trigram
// containment. Diacritics are significant.
func TextSimilarity(detected, truth string) float64 {
	detectedLines := splitLines(detected)
	truthLines := splitLines(truth)

	detectedNorm := normalizeText(detected)
	truthNorm := normalizeText(truth)

	if len(truthNorm) == 0 {
		if len(detectedNorm) == 0 {
			return 1.0
		}
		return 0.0
	}
	if string(detectedNorm) == string(truthNorm) {
		return 1.0
	}

	lcs := longestCommonSubsequence(detectedNorm, truthNorm)
	lcsScore := float64(lcs) / float64(max(len(detectedNorm), len(truthNorm)))

	charOverlap := characterOverlap(detectedNorm, truthNorm)

	lineScore := 0.0
	if len(truthLines) > 0 {
		matched := 0.0
		for _, tl := range truthLines {
			tlNorm := normalizeText(tl)
			if len(tlNorm) == 0 {
				continue
			}
			bestLine := 0.0
			for _, dl := range detectedLines {
				dlNorm := normalizeText(dl)
				if string(dlNorm) == string(tlNorm) {
					bestLine = 1.0
					break
				}
				lineMax := max(len(dlNorm), len(tlNorm))
				if m := float64(longestCommonSubsequence(dlNorm, tlNorm)) / float64(lineMax); m > bestLine {
					bestLine = m
				}
			}
			matched += bestLine
		}
		lineScore = matched / float64(len(truthLines))
	}

	trigramScore := 0.0
	if len(truthNorm) >= 3 {
		det := string(detectedNorm)
		matches, total := 0, 0
		for i := 0; i <= len(truthNorm)-3; i++ {
			total++
			if strings.Contains(det, string(truthNorm[i:i+3])) {
				matches++
			}
		}
		trigramScore = float64(matches) / float64(total)
	}

	return 0.35*lcsScore + 0.25*charOverlap + 0.25*lineScore + 0.15*trigramScore
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			result = append(result, l)
		}
	}
	return result
}

// normalizeText uppercases and keeps letters and digits.
func normalizeText(s string) []rune {
	var out []rune
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func longestCommonSubsequence(a, b []rune) int {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return 0
	}

	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

// characterOverlap is the fraction of truth characters found in detected.
func characterOverlap(detected, truth []rune) float64 {
	if len(truth) == 0 {
		return 0.0
	}
	counts := make(map[rune]int)
	for _, r := range detected {
		counts[r]++
	}
	matched := 0
	for _, r := range truth {
		if counts[r] > 0 {
			matched++
			counts[r]--
		}
	}
	return float64(matched) / float64(len(truth))
}
