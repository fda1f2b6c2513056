// Command idcalibrate scores a region template against labelled card
// photos and, with -tune, nudges every box edge to improve the score.
//
// Usage: idcalibrate [options] <manifest.json>
//
// The manifest is a JSON list of {"image": "...", "fields": {"id_number": "...", ...}}
// with image paths relative to the manifest.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"idcard-ocr/internal/app"
	"idcard-ocr/internal/config"
	"idcard-ocr/internal/idcard"
	"idcard-ocr/internal/logging"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/internal/regions"
)

var (
	flagTemplate   = flag.String("template", "cccd", "Template name or YAML path to start from")
	flagConnector  = flag.String("connector", "", "Connector to read crops with")
	flagConnectors = flag.String("connectors", "", "JSON file with connector definitions")
	flagField      = flag.String("field", "", "Calibrate a single field, empty=all")
	flagTune       = flag.Bool("tune", false, "Hill-climb box edges to improve the score")
	flagStep       = flag.Float64("step", 0.01, "Edge step as a fraction of the card size")
	flagRounds     = flag.Int("rounds", 5, "Max hill-climb rounds per field")
	flagOutput     = flag.String("o", "", "Write the (tuned) template YAML to this file")
	flagJSON       = flag.String("json", "", "Write the report to this JSON file")
	flagVerbose    = flag.Bool("v", false, "Verbose output")
)

// FieldReport is the calibration outcome of one field.
type FieldReport struct {
	Field     idcard.Field `json:"field"`
	Before    regions.Box  `json:"before"`
	After     regions.Box  `json:"after"`
	ScoreFrom float64      `json:"score_before"`
	ScoreTo   float64      `json:"score_after"`
	Readings  []Reading    `json:"readings"`
	Duration  string       `json:"duration"`
}

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <manifest.json>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *flagStep <= 0 || *flagStep >= 0.5 {
		fmt.Fprintln(os.Stderr, "Error: -step must be in (0, 0.5)")
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(manifest string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "warn"
	if *flagVerbose {
		level = "debug"
	}
	logging.Setup(level, "console")
	log := logging.New("idcalibrate")

	cfg.Template = *flagTemplate
	a, err := app.New(ctx, cfg, app.Options{ConnectorsFile: *flagConnectors}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	tpl, err := a.Templates.Resolve(*flagTemplate)
	if err != nil {
		return err
	}

	fmt.Printf("Loading manifest: %s\n", manifest)
	samples, err := loadManifest(manifest)
	if err != nil {
		return err
	}
	cards, err := loadCards(samples, log)
	if err != nil {
		return err
	}
	defer closeCards(cards)
	fmt.Printf("  %d samples\n", len(cards))

	session, err := a.Registry.NewSession(*flagConnector)
	if err != nil {
		return err
	}
	opts := ocr.DefaultInvokerOptions()
	opts.Scales = cfg.Scales
	opts.Languages = cfg.Languages
	sc := newScorer(cards, session, opts, log)

	targets := idcard.AllFields
	if *flagField != "" {
		f, ok := idcard.ParseField(*flagField)
		if !ok {
			return fmt.Errorf("unknown field %q", *flagField)
		}
		targets = []idcard.Field{f}
	}

	var reports []FieldReport
	for _, f := range targets {
		box, ok := tpl.Fields[f]
		if !ok {
			continue
		}
		start := time.Now()
		score := func(b regions.Box) (float64, error) {
			s, _, err := sc.score(ctx, f, b)
			return s, err
		}

		before, err := score(box)
		if err != nil {
			return err
		}
		after, afterScore := box, before
		if *flagTune {
			after, afterScore, err = climb(box, *flagStep, *flagRounds, score)
			if err != nil {
				return err
			}
			tpl.Fields[f] = after
		}
		_, readings, err := sc.score(ctx, f, after)
		if err != nil {
			return err
		}

		r := FieldReport{
			Field:     f,
			Before:    box,
			After:     after,
			ScoreFrom: before,
			ScoreTo:   afterScore,
			Readings:  readings,
			Duration:  time.Since(start).Round(time.Millisecond).String(),
		}
		reports = append(reports, r)
		printField(r)
	}

	printSummary(reports)

	if *flagOutput != "" {
		if err := writeTemplate(tpl, *flagOutput); err != nil {
			return err
		}
		fmt.Printf("\nTemplate written to: %s\n", *flagOutput)
	}
	if *flagJSON != "" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*flagJSON, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Report written to: %s\n", *flagJSON)
	}
	return nil
}

func printField(r FieldReport) {
	fmt.Printf("\nField: %s\n", r.Field)
	fmt.Printf("  Box: %s\n", formatBox(r.Before))
	if r.After != r.Before {
		fmt.Printf("  Tuned: %s\n", formatBox(r.After))
	}
	fmt.Printf("  Score: %.1f%% -> %.1f%% (%s)\n", r.ScoreFrom*100, r.ScoreTo*100, r.Duration)
	if !*flagVerbose {
		return
	}
	for _, rd := range r.Readings {
		fmt.Printf("    %5.1f%% %s: %q (truth %q)\n", rd.Score*100, rd.Sample, rd.Text, rd.Truth)
	}
}

func printSummary(reports []FieldReport) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	sorted := make([]FieldReport, len(reports))
	copy(sorted, reports)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ScoreTo < sorted[j].ScoreTo
	})

	var total float64
	for _, r := range sorted {
		total += r.ScoreTo
		fmt.Printf("  %-16s %5.1f%% (%+.1f)\n", r.Field, r.ScoreTo*100, (r.ScoreTo-r.ScoreFrom)*100)
	}
	if len(sorted) > 0 {
		fmt.Printf("\nAverage score: %.1f%%\n", total*100/float64(len(sorted)))
	}
}

func formatBox(b regions.Box) string {
	return fmt.Sprintf("left=%.3f top=%.3f right=%.3f bottom=%.3f", b.Left, b.Top, b.Right, b.Bottom)
}

func writeTemplate(tpl regions.Template, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tpl.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
