package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"idcard-ocr/internal/alignment"
	"idcard-ocr/internal/fields"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/internal/preprocess"
	"idcard-ocr/internal/regions"
)

// Sample is one labelled card photo of the manifest.
type Sample struct {
	Image  string            `json:"image"`
	Fields map[string]string `json:"fields"`
}

// loadManifest reads samples and resolves image paths against the
// manifest directory.
func loadManifest(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range samples {
		if samples[i].Image == "" {
			return nil, fmt.Errorf("sample %d has no image", i)
		}
		if !filepath.IsAbs(samples[i].Image) {
			samples[i].Image = filepath.Join(dir, samples[i].Image)
		}
		for k := range samples[i].Fields {
			if _, ok := idcard.ParseField(k); !ok {
				return nil, fmt.Errorf("sample %d: unknown field %q", i, k)
			}
		}
	}
	return samples, nil
}

// loadedCard is a located card with its ground truth.
type loadedCard struct {
	name  string
	card  *alignment.Card
	truth map[idcard.Field]string
}

func loadCards(samples []Sample, log zerolog.Logger) ([]loadedCard, error) {
	loc := alignment.NewLocator(alignment.DefaultOptions())
	var cards []loadedCard
	for _, s := range samples {
		raw, err := imgutil.ReadFile(s.Image)
		if err != nil {
			closeCards(cards)
			return nil, err
		}
		prep, err := preprocess.Preprocess(raw, preprocess.CardOptions())
		if err != nil {
			closeCards(cards)
			return nil, fmt.Errorf("%s: %w", s.Image, err)
		}
		card := loc.Locate(prep.Mat)
		prep.Close()

		truth := make(map[idcard.Field]string, len(s.Fields))
		for k, v := range s.Fields {
			f, _ := idcard.ParseField(k)
			truth[f] = v
		}
		log.Debug().Str("image", s.Image).Str("method", string(card.Method)).Msg("card located")
		cards = append(cards, loadedCard{name: filepath.Base(s.Image), card: card, truth: truth})
	}
	return cards, nil
}

// Reading is the parsed value of one field crop.
type Reading struct {
	Sample string  `json:"sample"`
	Truth  string  `json:"truth"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// scorer reads template boxes on every card and scores them against the
// ground truth. Readings are memoized per field and box since the hill
// climb revisits boxes.
type scorer struct {
	cards   []loadedCard
	invoker *ocr.Invoker
	parser  *fields.Parser

	mu   sync.Mutex
	memo map[string][]Reading
}

func newScorer(cards []loadedCard, runner ocr.Runner, opts ocr.InvokerOptions, log zerolog.Logger) *scorer {
	return &scorer{
		cards:   cards,
		invoker: ocr.NewInvoker(runner, opts, log),
		parser:  fields.NewParser(nil, nil),
		memo:    make(map[string][]Reading),
	}
}

// score returns the mean similarity of box for field f over the cards
// that carry ground truth for f.
func (s *scorer) score(ctx context.Context, f idcard.Field, box regions.Box) (float64, []Reading, error) {
	key := fmt.Sprintf("%s:%.4f:%.4f:%.4f:%.4f", f, box.Left, box.Top, box.Right, box.Bottom)
	s.mu.Lock()
	cached, ok := s.memo[key]
	s.mu.Unlock()
	if ok {
		return mean(cached), cached, nil
	}

	var readings []Reading
	for _, c := range s.cards {
		truth, ok := c.truth[f]
		if !ok {
			continue
		}
		text, err := s.read(ctx, c.card, f, box)
		if err != nil {
			return 0, nil, err
		}
		readings = append(readings, Reading{
			Sample: c.name,
			Truth:  truth,
			Text:   text,
			Score:  ocr.TextSimilarity(text, truth),
		})
	}

	s.mu.Lock()
	s.memo[key] = readings
	s.mu.Unlock()
	return mean(readings), readings, nil
}

func (s *scorer) read(ctx context.Context, card *alignment.Card, f idcard.Field, box regions.Box) (string, error) {
	size := card.Size()
	rect := box.Rect().Scale(size).Clamp(size.Width, size.Height)
	if rect.Empty() {
		return "", nil
	}
	view := card.Image.Region(rect.ImageRect())
	crop := view.Clone()
	view.Close()
	defer crop.Close()

	att, err := s.invoker.BestAttempt(ctx, crop, f.Kind())
	if err != nil {
		return "", err
	}
	ef, err := s.parser.Parse(f, att)
	if err != nil {
		return "", err
	}
	return ef.String(), nil
}

func mean(readings []Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range readings {
		sum += r.Score
	}
	return sum / float64(len(readings))
}

// climb runs a greedy hill climb over the four box edges: every round
// tries each edge at +step and -step and keeps any move that raises the
// score. It stops after rounds or when a round improves nothing.
func climb(start regions.Box, step float64, rounds int, score func(regions.Box) (float64, error)) (regions.Box, float64, error) {
	best := start
	bestScore, err := score(best)
	if err != nil {
		return start, 0, err
	}

	edges := []func(*regions.Box) *float64{
		func(b *regions.Box) *float64 { return &b.Left },
		func(b *regions.Box) *float64 { return &b.Top },
		func(b *regions.Box) *float64 { return &b.Right },
		func(b *regions.Box) *float64 { return &b.Bottom },
	}

	for round := 0; round < rounds; round++ {
		improved := false
		for _, edge := range edges {
			for _, delta := range []float64{step, -step} {
				cand := best
				*edge(&cand) += delta
				if cand.Validate() != nil {
					continue
				}
				sc, err := score(cand)
				if err != nil {
					return best, bestScore, err
				}
				if sc > bestScore {
					best, bestScore = cand, sc
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best, bestScore, nil
}

func closeCards(cards []loadedCard) {
	for _, c := range cards {
		c.card.Close()
	}
}
