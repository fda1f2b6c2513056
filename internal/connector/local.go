package connector

import (
	"context"
	"fmt"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/ocr"
)

// Local runs Tesseract in process through an engine pool.
type Local struct {
	name      string
	pool      *ocr.EnginePool
	recognize func(png []byte, cfg ocr.Config) (ocr.Attempt, error)
}

// NewLocal creates a local connector drawing engines from pool.
func NewLocal(name string, pool *ocr.EnginePool) *Local {
	l := &Local{name: name, pool: pool}
	l.recognize = l.recognizePooled
	return l
}

func (l *Local) Name() string       { return l.name }
func (l *Local) Provider() Provider { return ProviderLocal }

// Check always succeeds; engine problems surface on the first Run.
func (l *Local) Check(ctx context.Context) error {
	return nil
}

type localResult struct {
	att ocr.Attempt
	err error
}

// Run recognizes png. The Tesseract call cannot be interrupted, so it
// runs in its own goroutine and Run returns as soon as ctx is done; the
// engine goes back to the pool when the call finishes.
func (l *Local) Run(ctx context.Context, png []byte, cfg ocr.Config) (ocr.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Attempt{}, err
	}

	done := make(chan localResult, 1)
	go func() {
		att, err := l.recognize(png, cfg)
		done <- localResult{att: att, err: err}
	}()

	select {
	case <-ctx.Done():
		return ocr.Attempt{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return ocr.Attempt{}, res.err
		}
		res.att.Connector = l.name
		return res.att, nil
	}
}

func (l *Local) recognizePooled(png []byte, cfg ocr.Config) (ocr.Attempt, error) {
	eng, err := l.pool.Get(cfg.Kind)
	if err != nil {
		return ocr.Attempt{}, ocrerrors.NewOCRUnavailableError([]string{l.name}, err)
	}
	att, err := eng.Recognize(png, cfg)
	if err != nil {
		l.pool.Discard(eng)
		return ocr.Attempt{}, fmt.Errorf("local recognize: %w", err)
	}
	l.pool.Put(eng)
	return att, nil
}
