package pipeline

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"idcard-ocr/internal/alignment"
	"idcard-ocr/internal/config"
	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/internal/preprocess"
	"idcard-ocr/internal/regions"
	"idcard-ocr/pkg/geometry"
)

// candidates are the regions tried for one field, in stage order.
type candidates struct {
	template *idcard.Region
	detected []idcard.Region
	grid     []idcard.Region
}

// plan assigns regions to every field according to the mode. Grid cells
// are only searched for the ID number and the name.
func (p *Pipeline) plan(card *alignment.Card, lines []ocr.Line, mode string) map[idcard.Field]candidates {
	var tpl map[idcard.Field]idcard.Region
	var detected []idcard.Region
	if mode != config.ModeDetect {
		tpl = p.extractor.Template(card)
	}
	if mode != config.ModeTemplate {
		detected = p.extractor.Detect(lines, card)
	}
	grid := p.extractor.Grid(card, regions.GridRows, regions.GridCols)

	out := make(map[idcard.Field]candidates, len(idcard.AllFields))
	for _, f := range idcard.AllFields {
		var c candidates
		if r, ok := tpl[f]; ok {
			c.template = &r
		}
		c.detected = regions.ForField(detected, f)
		if f == idcard.FieldIDNumber || f == idcard.FieldFullName {
			c.grid = grid
		}
		out[f] = c
	}
	return out
}

// searchField reads the field's candidates stage by stage and keeps the
// best parsed value. It also returns the PNG of the winning attempt.
// Errors are limited to cancellation and total OCR unavailability; the
// best value so far is returned with them.
func (p *Pipeline) searchField(ctx context.Context, inv *ocr.Invoker, card *alignment.Card, f idcard.Field, c candidates, log zerolog.Logger) (idcard.ExtractedField, []byte, error) {
	best := idcard.ExtractedField{Field: f}
	var bestPNG []byte
	threshold := p.cfg.Threshold(f)
	log = log.With().Str("field", string(f)).Logger()

	confident := func() bool {
		return best.Found() && best.Score() >= threshold
	}

	try := func(r idcard.Region) error {
		att, err := p.readRegion(ctx, inv, card, r.Box, f.Kind())
		ef, perr := p.parser.Parse(f, att)
		if perr != nil {
			return perr
		}
		if ef.Source != nil {
			ef.Source.Provenance = r.Provenance
			ef.Source.Box = r.Box
		}
		if ef.Better(best) {
			best = ef
			bestPNG = att.Image
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ocrerrors.ErrOCRUnavailable) {
			return err
		}
		log.Debug().Err(err).Str("provenance", string(r.Provenance)).Msg("region skipped")
		return nil
	}

	if c.template != nil {
		if err := try(*c.template); err != nil {
			return best, bestPNG, err
		}
	}
	for _, r := range c.detected {
		if confident() {
			break
		}
		if err := try(r); err != nil {
			return best, bestPNG, err
		}
	}
	if !best.Found() {
		for _, r := range c.grid {
			if err := try(r); err != nil {
				return best, bestPNG, err
			}
			if confident() {
				break
			}
		}
	}

	log.Debug().Bool("found", best.Found()).Float64("score", best.Score()).Msg("field search done")
	return best, bestPNG, nil
}

// readRegion crops box from the card and runs it through the scale
// ladder.
func (p *Pipeline) readRegion(ctx context.Context, inv *ocr.Invoker, card *alignment.Card, box geometry.RectInt, kind idcard.Kind) (ocr.Attempt, error) {
	size := card.Size()
	box = box.Clamp(size.Width, size.Height)
	if box.Empty() {
		return ocr.Attempt{}, errEmptyRegion
	}
	view := card.Image.Region(box.ImageRect())
	crop := view.Clone()
	view.Close()
	defer crop.Close()
	return inv.BestAttempt(ctx, crop, kind)
}

var errEmptyRegion = errors.New("empty region")

// pageTokensOnCard maps token boxes from the preprocessed page back onto
// the card: undo the deskew rotation about the page center, then the
// upscale.
func pageTokensOnCard(tokens []ocr.Token, page *preprocess.Result, card geometry.Size) []ocr.Token {
	out := make([]ocr.Token, len(tokens))
	size := geometry.Size{Width: page.Mat.Cols(), Height: page.Mat.Rows()}
	for i, t := range tokens {
		out[i] = t
		if !t.Box.Empty() {
			out[i].Box = pageBoxToCard(t.Box, page.Scale, page.Angle, size, card)
		}
	}
	return out
}

func pageBoxToCard(box geometry.RectInt, scale, angle float64, page, card geometry.Size) geometry.RectInt {
	if scale <= 0 {
		scale = 1
	}
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(page.Width/2), float64(page.Height/2)

	corners := box.Corners()
	pts := make([]geometry.Point2D, 0, len(corners))
	for _, c := range corners {
		dx, dy := c.X-cx, c.Y-cy
		x := cx + cos*dx - sin*dy
		y := cy + sin*dx + cos*dy
		pts = append(pts, geometry.Point2D{X: x / scale, Y: y / scale})
	}
	return geometry.BoundingBox(pts).Clamp(card.Width, card.Height)
}
