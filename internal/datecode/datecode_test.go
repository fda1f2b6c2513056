package datecode

import (
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func TestDecode(t *testing.T) {
	dc := NewDecoder(fixedClock)

	tests := []struct {
		name      string
		code      string
		want      string
		corrected bool
		format    string
	}{
		{"slashes", "01/02/1990", "01/02/1990", false, "DMY"},
		{"dots single digits", "1.2.1990", "01/02/1990", false, "DMY"},
		{"spaces", "15 08 2001", "15/08/2001", false, "DMY"},
		{"year first", "1990-02-01", "01/02/1990", false, "YMD"},
		{"two digit year last century", "01/02/90", "01/02/1990", false, "DMY"},
		{"two digit year this century", "01/02/05", "01/02/2005", false, "DMY"},
		{"future year corrected", "12/03/2885", "12/03/1985", true, "DMY"},
		{"too recent corrected", "12/03/2019", "12/03/1919", true, "DMY"},
		{"leap day", "29/02/1996", "29/02/1996", false, "DMY"},
		{"leap day in a garbled year", "29/02/2100", "29/02/2000", true, "DMY"},
		{"both centuries plausible prefers 2000s", "05/03/2908", "05/03/2008", true, "DMY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dc.Decode(tt.code)
			if d == nil {
				t.Fatalf("Decode(%q) = nil", tt.code)
			}
			if d.String() != tt.want {
				t.Errorf("Decode(%q) = %s, want %s", tt.code, d, tt.want)
			}
			if d.Corrected != tt.corrected {
				t.Errorf("Corrected = %v, want %v", d.Corrected, tt.corrected)
			}
			if d.Format != tt.format {
				t.Errorf("Format = %q, want %q", d.Format, tt.format)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	dc := NewDecoder(fixedClock)
	for _, code := range []string{"", "1990", "32/01/1990", "01/13/1990", "30/02/1990", "29/02/1997", "001099012345"} {
		if d := dc.Decode(code); d != nil {
			t.Errorf("Decode(%q) = %s, want nil", code, d)
		}
	}
}

func TestExtract(t *testing.T) {
	dc := NewDecoder(fixedClock)
	text := "Số: 001099012345\nHọ và tên: NGUYỄN VĂN AN\nNgày sinh / Date of birth: 01-02-1990\nCó giá trị đến: 01/02/2035"

	raw, d := dc.Extract(text)
	if d == nil {
		t.Fatal("Extract() found no date")
	}
	if raw != "01-02-1990" || d.String() != "01/02/1990" {
		t.Errorf("Extract() = %q, %s", raw, d)
	}

	if _, d := dc.Extract("no dates here 12345"); d != nil {
		t.Errorf("Extract() = %s, want nil", d)
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	dc := NewDecoder(fixedClock)
	for _, in := range []string{"01/02/1990", "1990.02.01", "1 2 1990", "01-02-90"} {
		got, ok := dc.Normalize(in)
		if !ok || got != "01/02/1990" {
			t.Errorf("Normalize(%q) = %q, %v", in, got, ok)
			continue
		}
		again, ok := dc.Normalize(got)
		if !ok || again != got {
			t.Errorf("Normalize(%q) not idempotent: %q", got, again)
		}
	}
}
