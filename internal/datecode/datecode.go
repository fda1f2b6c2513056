// Package datecode decodes printed dates of birth from OCR text.
package datecode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Plausible age range for a card holder, in years.
const (
	MinAge = 15
	MaxAge = 120
)

// DecodedDate represents a decoded date of birth.
type DecodedDate struct {
	Day       int    // 1-31
	Month     int    // 1-12
	Year      int    // Full year (e.g., 1989)
	Corrected bool   // True if the printed year was replaced by a plausible one
	Format    string // Format name (e.g., "DMY", "YMD")
	Raw       string // Original matched text
}

// String returns the date as DD/MM/YYYY.
func (d DecodedDate) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

// Time returns the date at midnight UTC.
func (d DecodedDate) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

var (
	// Day, month and year separated by . / - or a space.
	dmyPattern = regexp.MustCompile(`\b(\d{1,2})[./\- ](\d{1,2})[./\- ](\d{4}|\d{2})\b`)
	ymdPattern = regexp.MustCompile(`\b(\d{4})[./\- ](\d{1,2})[./\- ](\d{1,2})\b`)
)

// Decoder decodes dates relative to a clock.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a decoder. A nil clock means time.Now.
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

// Decode decodes a single date string. It tries year-first before
// day-first so that 1990-02-01 is not read as day 19.
func (dc *Decoder) Decode(code string) *DecodedDate {
	code = strings.TrimSpace(code)
	if len(code) < 6 {
		return nil
	}
	if m := ymdPattern.FindStringSubmatch(code); m != nil {
		if d := dc.build(m[3], m[2], m[1], "YMD", m[0]); d != nil {
			return d
		}
	}
	if m := dmyPattern.FindStringSubmatch(code); m != nil {
		if d := dc.build(m[1], m[2], m[3], "DMY", m[0]); d != nil {
			return d
		}
	}
	return nil
}

// Extract finds the first decodable date in OCR text and returns the
// matched text and the decoded date, or empty/nil if none is found.
func (dc *Decoder) Extract(text string) (string, *DecodedDate) {
	for _, line := range strings.Split(text, "\n") {
		for _, p := range []*regexp.Regexp{ymdPattern, dmyPattern} {
			for _, m := range p.FindAllString(line, -1) {
				if d := dc.Decode(m); d != nil {
					return m, d
				}
			}
		}
	}
	return "", nil
}

// Normalize rewrites a date string as DD/MM/YYYY. The second result is
// false when no date could be decoded.
func (dc *Decoder) Normalize(s string) (string, bool) {
	if _, d := dc.Extract(s); d != nil {
		return d.String(), true
	}
	return "", false
}

func (dc *Decoder) build(day, month, year, format, raw string) *DecodedDate {
	dd, _ := strconv.Atoi(day)
	mm, _ := strconv.Atoi(month)
	yy, _ := strconv.Atoi(year)

	// The printed year may be garbled, so the day is checked against the
	// corrected year below.
	if mm < 1 || mm > 12 || dd < 1 || dd > daysIn(mm, 0) {
		return nil
	}

	now := dc.now()
	out := &DecodedDate{Day: dd, Month: mm, Year: yy, Format: format, Raw: raw}
	if len(year) == 2 || !plausible(yy, now) {
		fixed, ok := resolveYear(yy%100, now)
		switch {
		case ok:
			out.Year = fixed
			out.Corrected = len(year) == 4
		case len(year) == 2:
			return nil
		default:
			// Keep the printed year; nothing plausible replaces it.
		}
	}
	if out.Day > daysIn(out.Month, out.Year) {
		return nil
	}
	return out
}

// resolveYear maps the last two digits of a year onto 2000 or 1900,
// preferring the most recent year that gives a plausible age.
func resolveYear(yy int, now time.Time) (int, bool) {
	for _, base := range []int{2000, 1900} {
		if y := base + yy; plausible(y, now) {
			return y, true
		}
	}
	return 0, false
}

func plausible(year int, now time.Time) bool {
	age := now.Year() - year
	return age >= MinAge && age <= MaxAge
}

func daysIn(month, year int) int {
	if year <= 0 {
		year = 2000 // leap, so 29/02 survives until the year is known
	}
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FormatInfo provides detailed format information for display.
type FormatInfo struct {
	Name        string
	Description string
	Example     string
	Decoded     string
}

// GetFormatInfo returns information about the accepted date formats.
func GetFormatInfo() []FormatInfo {
	return []FormatInfo{
		{
			Name:        "DMY",
			Description: "Day + month + 4-digit year, separated by . / - or space",
			Example:     "01.02.1990",
			Decoded:     "01/02/1990",
		},
		{
			Name:        "DMY short",
			Description: "Day + month + 2-digit year; century picked for an age of 15-120",
			Example:     "01/02/90",
			Decoded:     "01/02/1990",
		},
		{
			Name:        "YMD",
			Description: "4-digit year + month + day",
			Example:     "1990-02-01",
			Decoded:     "01/02/1990",
		},
	}
}
