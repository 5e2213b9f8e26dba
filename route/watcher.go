package route

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a Registry in sync with a directory of policy files.
// Writes are debounced per file; a removed or renamed file drops the route
// it defined.
type Watcher struct {
	dir      string
	reg      *Registry
	log      *zap.Logger
	debounce time.Duration

	fs     *fsnotify.Watcher
	stopCh chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	byPath map[string]string // file -> route id
	timers map[string]*time.Timer
}

// WatcherOptions configures NewWatcher. Zero values are safe.
type WatcherOptions struct {
	Logger   *zap.Logger
	Debounce time.Duration // <= 0 => 200ms
}

// NewWatcher loads dir into reg and starts watching it.
func NewWatcher(dir string, reg *Registry, opt WatcherOptions) (*Watcher, error) {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Debounce <= 0 {
		opt.Debounce = 200 * time.Millisecond
	}
	w := &Watcher{
		dir:      dir,
		reg:      reg,
		log:      opt.Logger,
		debounce: opt.Debounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		byPath:   make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}

	defs, err := LoadDir(dir)
	if err != nil {
		if len(defs) == 0 && !errors.Is(err, ErrInvalidPolicy) {
			return nil, err
		}
		w.log.Warn("some route policies failed to load", zap.String("dir", dir), zap.Error(err))
	}
	for _, d := range defs {
		w.byPath[d.Source] = d.ID
	}
	reg.Sync(defs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.fs = fsw

	go w.loop()
	w.log.Info("watching route policies", zap.String("dir", dir), zap.Int("routes", len(defs)))
	return w, nil
}

// Close stops the watcher. Pending debounced reloads are discarded.
func (w *Watcher) Close() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	close(w.stopCh)
	<-w.done

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.mu.Unlock()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer w.fs.Close()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if _, ok := FormatOf(ev.Name); !ok {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.drop(ev.Name)
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.schedule(ev.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("route watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.reload(path) })
}

func (w *Watcher) reload(path string) {
	def, err := LoadFile(path)
	if err != nil {
		// keep the last good definition
		w.log.Error("route policy reload failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}

	w.mu.Lock()
	if w.timers == nil {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	oldID, had := w.byPath[path]
	w.byPath[path] = def.ID
	w.mu.Unlock()

	if had && oldID != def.ID {
		w.reg.Remove(oldID)
	}
	_, existed := w.reg.Replace(def)
	w.log.Info("route policy loaded",
		zap.String("route", def.ID),
		zap.String("file", filepath.Base(path)),
		zap.Bool("replaced", existed))
}

func (w *Watcher) drop(path string) {
	w.mu.Lock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	id, ok := w.byPath[path]
	delete(w.byPath, path)
	w.mu.Unlock()

	if ok && w.reg.Remove(id) {
		w.log.Info("route policy removed", zap.String("route", id), zap.String("file", filepath.Base(path)))
	}
}
