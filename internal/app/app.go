// Package app wires configuration, connectors, storage and the pipeline
// into a runnable extractor shared by the CLI and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"idcard-ocr/internal/config"
	"idcard-ocr/internal/connector"
	"idcard-ocr/internal/debug"
	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/internal/pipeline"
	"idcard-ocr/internal/regions"
	"idcard-ocr/internal/storage"
)

// Options select the optional parts of the application.
type Options struct {
	// ConnectorsFile is a JSON list of connector definitions. Empty
	// derives the definitions from the configuration.
	ConnectorsFile string
	// Storage connects the result cache and the audit log when their
	// URLs are configured.
	Storage bool
}

// App holds the long-lived resources of a process.
type App struct {
	Config    *config.Config
	Registry  *connector.Registry
	Pool      *ocr.EnginePool
	Templates *regions.Registry

	deps    pipeline.Deps
	current atomic.Pointer[pipeline.Pipeline]
	log     zerolog.Logger

	mu      sync.Mutex
	closers []io.Closer
}

// New builds the application. Resources acquired before a failure are
// released.
func New(ctx context.Context, cfg *config.Config, opts Options, log zerolog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{
		Config:    cfg,
		Templates: regions.NewRegistry(),
		log:       log,
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	defs, err := a.definitions(opts.ConnectorsFile)
	if err != nil {
		return nil, err
	}

	a.Pool = ocr.NewEnginePool(cfg.Languages, cfg.FieldConcurrency+1)
	a.track(a.Pool)

	a.Registry, err = connector.Build(ctx, defs, a.Pool, log.With().Str("component", "connector").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to build connectors: %w", err)
	}
	a.track(a.Registry)

	sink, err := a.debugSink(ctx)
	if err != nil {
		return nil, err
	}
	a.deps = pipeline.Deps{
		Sessions: pipeline.RegistrySessions(a.Registry),
		Debug:    sink,
	}

	if opts.Storage {
		if err := a.connectStorage(ctx); err != nil {
			return nil, err
		}
	}

	tpl, err := a.Templates.Resolve(cfg.Template)
	if err != nil {
		return nil, ocrerrors.NewConfigError("IDOCR_TEMPLATE", err)
	}
	if err := a.UseTemplate(tpl); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) definitions(path string) ([]connector.Definition, error) {
	var defs []connector.Definition
	if path != "" {
		loaded, err := connector.LoadDefinitions(path)
		if err != nil {
			return nil, ocrerrors.NewConfigError("connectors file", err)
		}
		defs = loaded
	} else {
		defs = connector.DefinitionsFromConfig(a.Config)
	}
	if len(defs) == 0 {
		return nil, ocrerrors.NewConfigError("IDOCR_LOCAL_DISABLED", fmt.Errorf("no connector configured"))
	}
	return defs, nil
}

func (a *App) debugSink(ctx context.Context) (debug.Sink, error) {
	cfg := a.Config
	switch {
	case !cfg.Debug:
		return debug.Nop{}, nil
	case cfg.DebugBucket != "":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.track(client)
		a.log.Info().Str("bucket", cfg.DebugBucket).Msg("debug artifacts go to cloud storage")
		return debug.NewGCSSink(client.Bucket(cfg.DebugBucket), "idocr-debug", a.log), nil
	default:
		sink, err := debug.NewDirSink(cfg.DebugDir)
		if err != nil {
			return nil, err
		}
		a.log.Info().Str("dir", sink.Dir()).Msg("debug artifacts enabled")
		return sink, nil
	}
}

func (a *App) connectStorage(ctx context.Context) error {
	cfg := a.Config
	if cfg.RedisURL != "" {
		cache, err := storage.NewResultCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return err
		}
		a.track(cache)
		a.deps.Cache = cache
	}
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.track(pg)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.deps.Audit = pg
	}
	return nil
}

// UseTemplate swaps the region template. Runs already in flight keep the
// previous one.
func (a *App) UseTemplate(tpl regions.Template) error {
	p, err := pipeline.New(a.Config, tpl, a.deps, a.log.With().Str("component", "pipeline").Logger())
	if err != nil {
		return err
	}
	a.current.Store(p)
	a.log.Info().Str("template", tpl.Name).Msg("template loaded")
	return nil
}

// ReloadTemplate loads a template file and swaps it in.
func (a *App) ReloadTemplate(path string) error {
	tpl, err := regions.LoadFile(path)
	if err != nil {
		return err
	}
	return a.UseTemplate(tpl)
}

// Pipeline returns the current pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.current.Load()
}

// Run extracts one image with the current pipeline.
func (a *App) Run(ctx context.Context, raw imgutil.RawImage, opts pipeline.RunOptions) (*idcard.Result, error) {
	return a.Pipeline().Run(ctx, raw, opts)
}

func (a *App) track(c io.Closer) {
	a.mu.Lock()
	a.closers = append(a.closers, c)
	a.mu.Unlock()
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
