package app

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher polls a file and calls back whenever its modification time
// moves past the baseline. The worker uses it to pick up edited template
// files without a restart.
type Watcher struct {
	path     string
	interval time.Duration

	mu       sync.Mutex
	baseline time.Time
	onChange func()
	stopCh   chan struct{}
}

// NewWatcher watches path, resolving symlinks first.
func NewWatcher(path string, interval time.Duration) (*Watcher, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{path: path, interval: interval, baseline: info.ModTime()}, nil
}

// OnChange sets the callback. It runs on the watcher goroutine.
func (w *Watcher) OnChange(callback func()) {
	w.mu.Lock()
	w.onChange = callback
	w.mu.Unlock()
}

// Start begins polling in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.stopCh = make(chan struct{})
	stop := w.stopCh
	w.mu.Unlock()
	go w.watchLoop(stop)
}

// Stop stops polling.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

func (w *Watcher) watchLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !w.changed() {
				continue
			}
			w.ResetBaseline()
			w.mu.Lock()
			cb := w.onChange
			w.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return info.ModTime().After(w.baseline)
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// ResetBaseline adopts the file's current modification time.
func (w *Watcher) ResetBaseline() {
	if info, err := os.Stat(w.path); err == nil {
		w.mu.Lock()
		w.baseline = info.ModTime()
		w.mu.Unlock()
	}
}
