package ocr

import (
	"sync"

	"idcard-ocr/internal/idcard"
)

// EnginePool hands out engines per field kind. Idle engines are kept in a
// bounded free list; surplus engines are closed on Put.
type EnginePool struct {
	languages []string
	newEngine func(languages []string, kind idcard.Kind) (*Engine, error)

	mu     sync.Mutex
	idle   map[idcard.Kind][]*Engine
	max    int
	closed bool
}

// NewEnginePool creates a pool keeping at most maxIdle engines per kind.
func NewEnginePool(languages []string, maxIdle int) *EnginePool {
	if maxIdle <= 0 {
		maxIdle = 4
	}
	return &EnginePool{
		languages: languages,
		newEngine: NewEngine,
		idle:      make(map[idcard.Kind][]*Engine),
		max:       maxIdle,
	}
}

// Get returns an idle engine or creates one.
func (p *EnginePool) Get(kind idcard.Kind) (*Engine, error) {
	p.mu.Lock()
	if list := p.idle[kind]; len(list) > 0 {
		e := list[len(list)-1]
		p.idle[kind] = list[:len(list)-1]
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()
	return p.newEngine(p.languages, kind)
}

// Put returns an engine to the pool.
func (p *EnginePool) Put(e *Engine) {
	if e == nil {
		return
	}
	p.mu.Lock()
	if p.closed || len(p.idle[e.kind]) >= p.max {
		p.mu.Unlock()
		e.Close()
		return
	}
	p.idle[e.kind] = append(p.idle[e.kind], e)
	p.mu.Unlock()
}

// Discard closes an engine that failed instead of returning it.
func (p *EnginePool) Discard(e *Engine) {
	if e != nil {
		e.Close()
	}
}

// Close closes all idle engines. Engines returned later are closed on Put.
func (p *EnginePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for kind, list := range p.idle {
		for _, e := range list {
			e.Close()
		}
		delete(p.idle, kind)
	}
	return nil
}
