// Command idocr extracts fields from Vietnamese ID-card photos.
//
// Usage:
//
//	idocr run [options] <image>...
//	idocr check [options] [connector]...
//	idocr enqueue [options] <image>...
//	idocr version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"idcard-ocr/internal/app"
	"idcard-ocr/internal/config"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/logging"
	"idcard-ocr/internal/pipeline"
	"idcard-ocr/internal/queue"
	"idcard-ocr/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options] [args]

Commands:
  run      extract fields from one or more images and print JSON
  check    test connector reachability
  enqueue  queue images for the worker
  version  print build information
`, filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "check":
		err = checkCmd(ctx, os.Args[2:])
	case "enqueue":
		err = enqueueCmd(ctx, os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println("idocr", version.String())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the flags shared by the
// commands.
func loadConfig(verbose bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Setup(level, "console")
	return cfg, logging.New("idocr"), nil
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	connectorName := fs.String("connector", "", "Connector to use (default: first active local, then remotes)")
	connectorsFile := fs.String("connectors", "", "JSON file with connector definitions")
	mode := fs.String("mode", "", "Region mode: template, detect or combined (default from IDOCR_MODE)")
	expect := fs.String("expect", "", "Expected ID number to verify against")
	template := fs.String("template", "", "Template name or YAML path (default from IDOCR_TEMPLATE)")
	debugDir := fs.String("debug-dir", "", "Save intermediate images to this directory")
	outPath := fs.String("o", "", "Write results to this file instead of stdout")
	timeout := fs.Duration("timeout", 2*time.Minute, "Per-image timeout")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: idocr run [options] <image>...")
		fs.PrintDefaults()
		os.Exit(2)
	}

	cfg, log, err := loadConfig(*verbose)
	if err != nil {
		return err
	}
	if *template != "" {
		cfg.Template = *template
	}
	if *debugDir != "" {
		cfg.Debug = true
		cfg.DebugDir = *debugDir
	}

	a, err := app.New(ctx, cfg, app.Options{ConnectorsFile: *connectorsFile}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make(map[string]*idcard.Result, fs.NArg())
	failed := 0
	for _, path := range fs.Args() {
		res, err := extractFile(ctx, a, path, pipeline.RunOptions{
			Connector:  *connectorName,
			Mode:       *mode,
			ExpectedID: *expect,
			Filename:   filepath.Base(path),
		}, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			if res == nil {
				continue
			}
		}
		results[path] = res
		fmt.Fprintf(os.Stderr, "%s: %s (%d/%d fields, %v)\n",
			path, res.Status, len(idcard.AllFields)-len(res.Missing()), len(idcard.AllFields), res.Duration.Round(time.Millisecond))
		if ctx.Err() != nil {
			break
		}
	}

	var out interface{} = results
	if fs.NArg() == 1 {
		out = results[fs.Arg(0)]
	}
	if err := writeJSON(*outPath, out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, fs.NArg())
	}
	return nil
}

func extractFile(ctx context.Context, a *app.App, path string, opts pipeline.RunOptions, timeout time.Duration) (*idcard.Result, error) {
	raw, err := imgutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Run(ctx, raw, opts)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Results written to: %s\n", path)
	return nil
}

func checkCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	connectorsFile := fs.String("connectors", "", "JSON file with connector definitions")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	cfg, log, err := loadConfig(*verbose)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{ConnectorsFile: *connectorsFile}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	names := fs.Args()
	if len(names) == 0 {
		names = a.Registry.Names()
	}
	bad := 0
	for _, name := range names {
		if err := a.Registry.Check(ctx, name); err != nil {
			fmt.Printf("  %-12s FAIL  %v\n", name, err)
			bad++
			continue
		}
		fmt.Printf("  %-12s ok\n", name)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d connectors unreachable", bad, len(names))
	}
	return nil
}

func enqueueCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	connectorName := fs.String("connector", "", "Connector the worker should use")
	expect := fs.String("expect", "", "Expected ID number to verify against")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: idocr enqueue [options] <image>...")
		fs.PrintDefaults()
		os.Exit(2)
	}

	cfg, _, err := loadConfig(*verbose)
	if err != nil {
		return err
	}
	producer, err := queue.NewProducer(cfg.RedisURL, cfg.Queue)
	if err != nil {
		return err
	}
	defer producer.Close()

	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := producer.Enqueue(ctx, queue.Payload{
			Filename:   filepath.Base(path),
			Image:      data,
			Connector:  *connectorName,
			ExpectedID: *expect,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", info.ID, info.Queue, path)
	}
	return nil
}
