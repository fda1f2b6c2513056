// Package debug stores intermediate images of a run for inspection.
package debug

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// Sink stores a named PNG artifact.
type Sink interface {
	Save(ctx context.Context, name string, png []byte) error
}

// Nop discards artifacts.
type Nop struct{}

func (Nop) Save(context.Context, string, []byte) error { return nil }

// DefaultDir is the scratch directory used when none is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "idocr-debug")
}

// DirSink writes artifacts below a directory.
type DirSink struct {
	dir string
}

// NewDirSink creates the directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create debug dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Dir returns the target directory.
func (s *DirSink) Dir() string { return s.dir }

func (s *DirSink) Save(ctx context.Context, name string, png []byte) error {
	p := filepath.Join(s.dir, filepath.FromSlash(cleanName(name)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, png, 0o644)
}

// GCSSink writes artifacts to a bucket. Objects are written once; an
// existing object is left untouched.
type GCSSink struct {
	bucket *storage.BucketHandle
	prefix string
	log    zerolog.Logger
}

// NewGCSSink wraps a bucket handle.
func NewGCSSink(bucket *storage.BucketHandle, prefix string, log zerolog.Logger) *GCSSink {
	return &GCSSink{bucket: bucket, prefix: strings.Trim(prefix, "/"), log: log}
}

func (s *GCSSink) Save(ctx context.Context, name string, png []byte) error {
	object := cleanName(name)
	if s.prefix != "" {
		object = path.Join(s.prefix, object)
	}

	w := s.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "image/png"
	if _, err := w.Write(png); err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			s.log.Debug().Str("object", object).Msg("artifact already exists")
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// cleanName keeps artifact names relative and slash-separated.
func cleanName(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimPrefix(name, "/")
}

// Recorder prefixes artifact names with a run id and logs failures
// instead of returning them. Debug output never fails a run.
type Recorder struct {
	sink  Sink
	runID string
	log   zerolog.Logger
}

// NewRecorder creates a recorder. A nil sink records nothing.
func NewRecorder(sink Sink, runID string, log zerolog.Logger) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	return &Recorder{sink: sink, runID: runID, log: log}
}

// Enabled reports whether artifacts are kept.
func (r *Recorder) Enabled() bool {
	_, nop := r.sink.(Nop)
	return !nop
}

// Save stores png as <run id>/<name>.png.
func (r *Recorder) Save(ctx context.Context, name string, png []byte) {
	if !r.Enabled() || len(png) == 0 {
		return
	}
	full := path.Join(r.runID, name+".png")
	if err := r.sink.Save(ctx, full, png); err != nil {
		r.log.Warn().Err(err).Str("artifact", full).Msg("failed to save debug artifact")
	}
}
