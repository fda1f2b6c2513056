package regions

import (
	"sort"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/pkg/geometry"
)

// Frame is the normalized card the regions are placed on.
type Frame interface {
	Size() geometry.Size
	MapBox(box geometry.RectInt) geometry.Quad
}

// Detection thresholds.
const (
	MinDigitRatio = 0.25
	MinNameWords  = 2
)

// Default grid used by the last-resort search.
const (
	GridRows = 8
	GridCols = 6
)

// Extractor proposes regions for a template and label set.
type Extractor struct {
	tpl    Template
	labels *idcard.Labels
}

// NewExtractor creates an extractor.
func NewExtractor(tpl Template, labels *idcard.Labels) *Extractor {
	return &Extractor{tpl: tpl, labels: labels}
}

// TemplateName returns the name of the template in use.
func (e *Extractor) TemplateName() string {
	return e.tpl.Name
}

// Template places every template box on the card.
func (e *Extractor) Template(frame Frame) map[idcard.Field]idcard.Region {
	size := frame.Size()
	out := make(map[idcard.Field]idcard.Region, len(e.tpl.Fields))
	for f, b := range e.tpl.Fields {
		box := b.Rect().Scale(size).Clamp(size.Width, size.Height)
		if box.Empty() {
			continue
		}
		out[f] = idcard.Region{
			Field:      f,
			Box:        box,
			Quad:       frame.MapBox(box),
			Provenance: idcard.ProvenanceTemplate,
		}
	}
	return out
}

// Detect derives regions from full-page OCR lines: lines introduced by a
// field label, digit-heavy lines for the ID number and multi-word
// letter-only lines for the name, skipping the printed header. Lines are given in card coordinates.
func (e *Extractor) Detect(lines []ocr.Line, frame Frame) []idcard.Region {
	size := frame.Size()
	var out []idcard.Region

	type idCand struct {
		region idcard.Region
		ratio  float64
	}
	var ids []idCand

	for i, line := range lines {
		if line.Box.Empty() {
			continue
		}

		if e.labels != nil {
			if m, ok := e.labels.Find(line.Text); ok && m.Field != idcard.FieldIDNumber {
				box := line.Box
				// Value printed under the label.
				if rest, _ := e.labels.Value(m.Field, line.Text); rest == "" && i+1 < len(lines) {
					box = box.Union(lines[i+1].Box)
				}
				out = append(out, e.region(m.Field, box, line.Text, frame, size))
				continue
			}
		}

		switch {
		case line.DigitRatio() >= MinDigitRatio:
			ids = append(ids, idCand{
				region: e.region(idcard.FieldIDNumber, line.Box, line.Text, frame, size),
				ratio:  line.DigitRatio(),
			})
		case line.AlphaWords() >= MinNameWords && !line.HasDigits() && !idcard.IsHeader(line.Text):
			out = append(out, e.region(idcard.FieldFullName, line.Box, line.Text, frame, size))
		}
	}

	sort.SliceStable(ids, func(a, b int) bool { return ids[a].ratio > ids[b].ratio })
	idRegions := make([]idcard.Region, len(ids))
	for i, c := range ids {
		idRegions[i] = c.region
	}
	return append(idRegions, out...)
}

// ForField filters regions by field, keeping order.
func ForField(regions []idcard.Region, f idcard.Field) []idcard.Region {
	var out []idcard.Region
	for _, r := range regions {
		if r.Field == f {
			out = append(out, r)
		}
	}
	return out
}

// Grid splits the card into rows x cols cells, row-major. Cells are not
// assigned to a field.
func (e *Extractor) Grid(frame Frame, rows, cols int) []idcard.Region {
	if rows <= 0 {
		rows = GridRows
	}
	if cols <= 0 {
		cols = GridCols
	}
	size := frame.Size()
	out := make([]idcard.Region, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x0 := c * size.Width / cols
			y0 := r * size.Height / rows
			x1 := (c + 1) * size.Width / cols
			y1 := (r + 1) * size.Height / rows
			box := geometry.RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
			if box.Empty() {
				continue
			}
			out = append(out, idcard.Region{
				Box:        box,
				Quad:       frame.MapBox(box),
				Provenance: idcard.ProvenanceGrid,
			})
		}
	}
	return out
}

func (e *Extractor) region(f idcard.Field, box geometry.RectInt, hint string, frame Frame, size geometry.Size) idcard.Region {
	pad := max(4, box.Height/4)
	box = box.Pad(pad, pad).Clamp(size.Width, size.Height)
	return idcard.Region{
		Field:      f,
		Box:        box,
		Quad:       frame.MapBox(box),
		Provenance: idcard.ProvenanceDetected,
		Hint:       hint,
	}
}
