// Package pipeline runs one ID-card image through preprocessing, card
// location, region OCR and field parsing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"idcard-ocr/internal/alignment"
	"idcard-ocr/internal/config"
	"idcard-ocr/internal/connector"
	"idcard-ocr/internal/debug"
	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/fields"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/ocr"
	"idcard-ocr/internal/preprocess"
	"idcard-ocr/internal/regions"
	"idcard-ocr/internal/storage"
)

// Session is the run-scoped OCR runner.
type Session interface {
	ocr.Runner
	// Primary names the connector that answered most calls.
	Primary() string
}

// SessionFactory opens a session for the selected connector ("" for the
// default walk).
type SessionFactory func(selected string) (Session, error)

// RegistrySessions opens sessions on a connector registry.
func RegistrySessions(r *connector.Registry) SessionFactory {
	return func(selected string) (Session, error) {
		s, err := r.NewSession(selected)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Cache stores finished results by key.
type Cache interface {
	Get(ctx context.Context, key string) (*idcard.Result, bool, error)
	Set(ctx context.Context, key string, res *idcard.Result) error
}

// AuditStore records one row per run.
type AuditStore interface {
	RecordRun(ctx context.Context, rec storage.AuditRecord) error
}

// Deps are the collaborators of a pipeline. Only Sessions is required.
type Deps struct {
	Sessions SessionFactory
	Cache    Cache
	Audit    AuditStore
	Debug    debug.Sink
	Parser   *fields.Parser
	Labels   *idcard.Labels
	Now      func() time.Time
}

// RunOptions are the per-invocation inputs.
type RunOptions struct {
	Connector  string
	Mode       string
	ExpectedID string
	JobID      string
	Filename   string
}

// Pipeline is safe for concurrent use; every Run owns its images and its
// connector session.
type Pipeline struct {
	cfg       *config.Config
	extractor *regions.Extractor
	locator   *alignment.Locator
	parser    *fields.Parser
	invoker   ocr.InvokerOptions
	tplPrint  string
	deps      Deps
	log       zerolog.Logger
}

// New creates a pipeline. A nil cfg selects config.Default().
func New(cfg *config.Config, tpl regions.Template, deps Deps, log zerolog.Logger) (*Pipeline, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("pipeline: no session factory")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if deps.Labels == nil {
		deps.Labels = idcard.DefaultLabels()
	}
	if deps.Parser == nil {
		deps.Parser = fields.NewParser(deps.Labels, nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	inv := ocr.DefaultInvokerOptions()
	inv.Scales = cfg.Scales
	inv.Languages = cfg.Languages

	return &Pipeline{
		cfg:       cfg,
		extractor: regions.NewExtractor(tpl, deps.Labels),
		locator:   alignment.NewLocator(alignment.DefaultOptions()),
		parser:    deps.Parser,
		invoker:   inv,
		tplPrint:  tpl.Fingerprint(),
		deps:      deps,
		log:       log,
	}, nil
}

// Run extracts every field from one image. Decode failures and total OCR
// unavailability are returned as errors with a nil result. On
// cancellation the partially filled result is returned together with
// the context error.
func (p *Pipeline) Run(ctx context.Context, raw imgutil.RawImage, opts RunOptions) (*idcard.Result, error) {
	start := p.deps.Now()
	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Str("job_id", opts.JobID).Logger()

	mode := opts.Mode
	if mode == "" {
		mode = p.cfg.Mode
	}
	switch mode {
	case config.ModeTemplate, config.ModeDetect, config.ModeCombined:
	default:
		return nil, ocrerrors.NewConfigError("mode", fmt.Errorf("unknown mode %q", mode))
	}

	key := storage.CacheKey(raw.Data, fmt.Sprintf("%s;boxes=%s;mode=%s;conn=%s", p.cfg.Fingerprint(), p.tplPrint, mode, opts.Connector))
	if p.deps.Cache != nil {
		cached, ok, err := p.deps.Cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("result cache lookup failed")
		case ok:
			cached.Verify(opts.ExpectedID)
			log.Info().Str("cached_run", cached.RunID).Str("status", string(cached.Status)).Msg("served from cache")
			return cached, nil
		}
	}

	res, err := p.run(ctx, raw, mode, opts, runID, log)
	if res != nil {
		res.Duration = p.deps.Now().Sub(start)
	}

	if p.deps.Audit != nil {
		// Audit rows are written even when the run context is gone.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if aerr := p.deps.Audit.RecordRun(actx, storage.NewAuditRecord(res, opts.JobID, opts.Filename, err)); aerr != nil {
			log.Error().Err(aerr).Msg("failed to record audit entry")
		}
		cancel()
	}

	if err != nil {
		log.Warn().Err(err).Str("error_code", string(ocrerrors.CodeOf(err))).Msg("extraction ended with error")
		return res, err
	}

	if p.deps.Cache != nil {
		if cerr := p.deps.Cache.Set(ctx, key, res); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to cache result")
		}
	}

	log.Info().
		Str("status", string(res.Status)).
		Str("card", string(res.Card)).
		Str("connector", res.Connector).
		Dur("duration", res.Duration).
		Int("missing", len(res.Missing())).
		Msg("extraction complete")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, raw imgutil.RawImage, mode string, opts RunOptions, runID string, log zerolog.Logger) (*idcard.Result, error) {
	rec := debug.NewRecorder(p.deps.Debug, runID, log)

	session, err := p.deps.Sessions(opts.Connector)
	if err != nil {
		return nil, err
	}

	prep, err := preprocess.Preprocess(raw, preprocess.CardOptions())
	if err != nil {
		return nil, err
	}
	defer prep.Close()
	log.Debug().Stringer("steps", prep.Steps).Msg("photo preprocessed")

	card := p.locator.Locate(prep.Mat)
	defer card.Close()
	log.Debug().Str("method", string(card.Method)).Int("width", card.Size().Width).Int("height", card.Size().Height).Msg("card located")
	p.saveMat(ctx, rec, "card", card.Image)

	res := idcard.NewResult(runID)
	res.Card = card.Method

	page, err := preprocess.Apply(card.Image, preprocess.PageOptions())
	if err != nil {
		return nil, fmt.Errorf("page preprocess: %w", err)
	}
	defer page.Close()

	pagePNG, err := imgutil.EncodePNG(page.Mat)
	if err != nil {
		return nil, fmt.Errorf("page encode: %w", err)
	}
	rec.Save(ctx, "page", pagePNG)

	pageAtt, err := session.Run(ctx, pagePNG, ocr.PageConfig(p.cfg.Languages))
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return nil, fmt.Errorf("page ocr: %w", err)
	}
	res.RawText = pageAtt.Text
	lines := ocr.GroupLines(pageTokensOnCard(pageAtt.Tokens, page, card.Size()))

	plan := p.plan(card, lines, mode)
	inv := ocr.NewInvoker(session, p.invoker, log)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FieldConcurrency)
	for _, f := range idcard.AllFields {
		cands := plan[f]
		g.Go(func() error {
			best, png, err := p.searchField(gctx, inv, card, f, cands, log)
			mu.Lock()
			res.Offer(best)
			mu.Unlock()
			if best.Found() {
				rec.Save(ctx, "field_"+string(f), png)
			}
			return err
		})
	}
	werr := g.Wait()
	if werr != nil && ctx.Err() == nil {
		if errors.Is(werr, ocrerrors.ErrOCRUnavailable) {
			return nil, werr
		}
		return nil, fmt.Errorf("field search: %w", werr)
	}

	p.fillFromPage(res, pageAtt)
	res.Status = res.ComputeStatus()
	res.Verify(opts.ExpectedID)
	res.Connector = session.Primary()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// fillFromPage fills fields the region search left empty, first from
// connector hints on the page call, then from label-anchored page text.
func (p *Pipeline) fillFromPage(res *idcard.Result, page ocr.Attempt) {
	src := func() *idcard.Source {
		return &idcard.Source{
			Connector:   page.Connector,
			Scale:       1,
			Provenance:  idcard.ProvenancePage,
			PageSegMode: page.Config.PageSegModeName(),
		}
	}

	if len(page.Hints) > 0 {
		hinted := page
		hinted.Text = ""
		for _, f := range res.Missing() {
			if page.Hints[f] == "" {
				continue
			}
			ef, err := p.parser.Parse(f, hinted)
			if err != nil || !ef.Found() {
				continue
			}
			ef.Source = src()
			res.Offer(ef)
		}
	}

	missing := res.Missing()
	if len(missing) == 0 {
		return
	}
	parsed := p.parser.ParsePage(page.Text, page.MeanConfidence)
	for _, f := range missing {
		ef := parsed[f]
		if !ef.Found() {
			continue
		}
		ef.Source = src()
		res.Offer(ef)
	}
}

func (p *Pipeline) saveMat(ctx context.Context, rec *debug.Recorder, name string, m gocv.Mat) {
	if !rec.Enabled() || m.Empty() {
		return
	}
	png, err := imgutil.EncodePNG(m)
	if err != nil {
		p.log.Debug().Err(err).Str("artifact", name).Msg("encode failed")
		return
	}
	rec.Save(ctx, name, png)
}

// TemplateName names the region template in use.
func (p *Pipeline) TemplateName() string {
	return p.extractor.TemplateName()
}
