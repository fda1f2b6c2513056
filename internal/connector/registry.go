package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/ocr"
)

// Registry holds the configured connectors in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	log     zerolog.Logger
}

type entry struct {
	def  Definition
	conn Connector
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log}
}

// Build creates connectors for defs. Local connectors share pool.
func Build(ctx context.Context, defs []Definition, pool *ocr.EnginePool, log zerolog.Logger) (*Registry, error) {
	r := NewRegistry(log)
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		var c Connector
		switch d.Provider {
		case ProviderLocal:
			c = NewLocal(d.Name, pool)
		case ProviderCustom:
			c = NewRemote(d)
		case ProviderGoogle:
			v, err := NewVertex(ctx, d)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("connector %s: %w", d.Name, err)
			}
			c = v
		}
		if err := r.Register(d, c); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. Names must be unique.
func (r *Registry) Register(def Definition, c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.def.Name == def.Name {
			return fmt.Errorf("connector %s already registered", def.Name)
		}
	}
	def.Provider = c.Provider()
	r.entries = append(r.entries, entry{def: def, conn: c})
	return nil
}

// Get returns a connector by name.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.def.Name == name {
			return e.conn, true
		}
	}
	return nil, false
}

// Names lists connector names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.def.Name
	}
	return names
}

// Definitions returns copies of the registered definitions.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, len(r.entries))
	for i, e := range r.entries {
		defs[i] = e.def
	}
	return defs
}

// Default returns the active connector marked default, otherwise the
// first active local connector.
func (r *Registry) Default() (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.def.Active && e.def.Default {
			return e.conn, true
		}
	}
	for _, e := range r.entries {
		if e.def.Active && e.def.Provider == ProviderLocal {
			return e.conn, true
		}
	}
	return nil, false
}

// Check tests one connector.
func (r *Registry) Check(ctx context.Context, name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown connector %q", name)
	}
	return c.Check(ctx)
}

// Run performs a single call with a fresh session.
func (r *Registry) Run(ctx context.Context, png []byte, cfg ocr.Config, selected string) (ocr.Attempt, error) {
	s, err := r.NewSession(selected)
	if err != nil {
		return ocr.Attempt{}, err
	}
	return s.Run(ctx, png, cfg)
}

// Close closes connectors that hold resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.entries {
		if c, ok := e.conn.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// plan returns the connectors to walk for a selection. A selected
// remote connector is tried first and local is skipped; otherwise the
// walk starts at the default local connector, then the active remotes
// in registration order.
func (r *Registry) plan(selected string) ([]entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var first *entry
	if selected != "" {
		for i := range r.entries {
			if r.entries[i].def.Name == selected {
				first = &r.entries[i]
				break
			}
		}
		if first == nil {
			return nil, fmt.Errorf("unknown connector %q", selected)
		}
		if !first.def.Active {
			return nil, fmt.Errorf("connector %q is not active", selected)
		}
	}

	var out []entry
	if first != nil {
		out = append(out, *first)
	} else {
		for _, e := range r.entries {
			if e.def.Active && e.def.Provider == ProviderLocal {
				out = append(out, e)
				break
			}
		}
	}
	for _, e := range r.entries {
		if !e.def.Active || !e.def.Provider.IsRemote() {
			continue
		}
		if first != nil && e.def.Name == first.def.Name {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// NewSession starts a run-scoped walk over the connectors.
func (r *Registry) NewSession(selected string) (*Session, error) {
	plan, err := r.plan(selected)
	if err != nil {
		return nil, err
	}
	return &Session{
		plan:        plan,
		unavailable: make(map[string]error),
		log:         r.log,
	}, nil
}

// Session walks the connectors for one pipeline run. Connectors that
// are down are remembered and skipped for the rest of the run. A Session is
// safe for concurrent use and implements ocr.Runner.
type Session struct {
	plan []entry
	log  zerolog.Logger

	mu          sync.Mutex
	unavailable map[string]error
	used        map[string]int
}

// Run walks the plan: UNSET -> LOCAL_ATTEMPTED -> REMOTE_ATTEMPTED,
// ending in SUCCESS at the first connector that answers or FAILED with
// an OCRUnavailable error wrapping every cause. When only the local
// engine failed on this image and nothing is down, the plain causes are
// returned instead.
func (s *Session) Run(ctx context.Context, png []byte, cfg ocr.Config) (ocr.Attempt, error) {
	state := StateUnset
	var attempted []string
	var causes []error
	anyDown := false

	for _, e := range s.plan {
		if err := ctx.Err(); err != nil {
			return ocr.Attempt{}, err
		}
		name := e.def.Name

		s.mu.Lock()
		prev, down := s.unavailable[name]
		s.mu.Unlock()
		if down {
			attempted = append(attempted, name)
			causes = append(causes, prev)
			anyDown = true
			continue
		}

		nextState, ok := state.next(e.def.Provider)
		if !ok {
			continue
		}
		state = nextState

		att, err := e.conn.Run(ctx, png, cfg)
		if err == nil {
			s.mu.Lock()
			if s.used == nil {
				s.used = make(map[string]int)
			}
			s.used[name]++
			s.mu.Unlock()
			s.log.Debug().Str("connector", name).Str("state", StateSuccess.String()).Msg("ocr call succeeded")
			return att, nil
		}
		if ctx.Err() != nil {
			return ocr.Attempt{}, ctx.Err()
		}

		// Failed remotes are down for the rest of the run, the local engine
		// only when it cannot be created.
		if e.def.Provider != ProviderLocal || errors.Is(err, ocrerrors.ErrOCRUnavailable) {
			s.mu.Lock()
			s.unavailable[name] = err
			s.mu.Unlock()
			anyDown = true
		}
		s.log.Warn().Err(err).Str("connector", name).Str("state", state.String()).Msg("connector failed, falling back")
		attempted = append(attempted, name)
		causes = append(causes, fmt.Errorf("%s: %w", name, err))
	}

	s.log.Debug().Str("state", StateFailed.String()).Strs("attempted", attempted).Msg("no connector answered")
	if len(attempted) == 0 {
		return ocr.Attempt{}, ocrerrors.NewOCRUnavailableError(nil, fmt.Errorf("no active connector"))
	}
	if !anyDown {
		return ocr.Attempt{}, fmt.Errorf("no connector read the image: %w", errors.Join(causes...))
	}
	return ocr.Attempt{}, ocrerrors.NewOCRUnavailableError(attempted, errors.Join(causes...))
}

// Unavailable returns the names of connectors that failed during the run.
func (s *Session) Unavailable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.plan {
		if _, ok := s.unavailable[e.def.Name]; ok {
			out = append(out, e.def.Name)
		}
	}
	return out
}

// Primary returns the connector that answered most calls, or "".
func (s *Session) Primary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, n := "", 0
	for _, e := range s.plan {
		if c := s.used[e.def.Name]; c > n {
			best, n = e.def.Name, c
		}
	}
	return best
}
