package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce timing for the file watcher. Events reset the clock; the pending
// action fires only after the file has been quiet for a full Quiescence.
const (
	DefaultQuiescence = 2 * time.Second
	DefaultPoll       = 100 * time.Millisecond
)

type watchAction int

const (
	actionNone watchAction = iota
	actionStart
	actionRestart
)

// WatchConfig describes one watched binary and the lifecycle hooks to fire
// when it settles after a change.
type WatchConfig struct {
	// Path is the wrappee binary to watch. It may not exist yet; the watcher
	// then waits for its first creation and fires Start instead of Restart.
	Path    string
	Start   func() error
	Restart func() error

	Quiescence time.Duration
	Poll       time.Duration
	Logger     *slog.Logger
}

// Watcher restarts the wrappee when its binary changes on disk. Bursts of
// writes (a build in progress) collapse into a single restart once the file
// has been quiet for the quiescence window.
type Watcher struct {
	cfg    WatchConfig
	path   string
	logger *slog.Logger

	// Event-loop state, touched only from Run.
	awaitingFirst bool
	fileDeleted   bool
	pending       watchAction
	since         time.Time
}

// NewWatcher validates the config and resolves the watched path. It does not
// touch the filesystem beyond an existence probe.
func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("supervisor: watch path is required")
	}
	if cfg.Restart == nil {
		return nil, errors.New("supervisor: watch restart hook is required")
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = DefaultQuiescence
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve watch path: %w", err)
	}

	w := &Watcher{cfg: cfg, path: path, logger: logger}
	if _, err := os.Stat(path); err != nil {
		if cfg.Start == nil {
			return nil, fmt.Errorf("supervisor: watch path %s does not exist and no start hook is set", path)
		}
		w.awaitingFirst = true
	}
	return w, nil
}

// AwaitingFirstCreation reports whether the watched binary did not exist when
// the watcher was created, so the initial start is deferred to it.
func (w *Watcher) AwaitingFirstCreation() bool {
	return w.awaitingFirst
}

// Run watches until ctx is done. The parent directory is watched rather than
// the file itself so that delete-then-recreate (the common build output
// pattern) keeps delivering events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("supervisor: watch %s: %w", dir, err)
	}
	w.logger.Info("watching wrappee binary", "path", w.path, "awaiting_creation", w.awaitingFirst)

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.fileDeleted = true
		w.pending = actionNone
		w.logger.Debug("watched binary removed", "path", w.path)

	case event.Op.Has(fsnotify.Create):
		if !w.fileDeleted && !w.awaitingFirst {
			return
		}
		if _, err := os.Stat(w.path); err != nil {
			return
		}
		if w.awaitingFirst {
			w.awaitingFirst = false
			w.schedule(actionStart)
		} else {
			w.schedule(actionRestart)
		}
		w.fileDeleted = false

	case event.Op.Has(fsnotify.Write):
		if w.fileDeleted || w.awaitingFirst {
			return
		}
		w.schedule(actionRestart)
	}
}

func (w *Watcher) schedule(action watchAction) {
	// A pending initial start stays a start: nothing is running yet, so the
	// write events trailing the first creation must not turn it into a
	// restart.
	if w.pending == actionStart {
		action = actionStart
	}
	w.pending = action
	w.since = time.Now()
}

// tick fires the pending action once the quiescence window has passed. A
// missing file leaves the action pending for a later event instead of
// starting against nothing.
func (w *Watcher) tick() {
	if w.pending == actionNone || time.Since(w.since) < w.cfg.Quiescence {
		return
	}
	if _, err := os.Stat(w.path); err != nil {
		return
	}

	action := w.pending
	w.pending = actionNone

	switch action {
	case actionStart:
		w.logger.Info("wrappee binary created, starting", "path", w.path)
		if err := w.cfg.Start(); err != nil {
			w.logger.Error("initial start failed", "error", err)
		}
	case actionRestart:
		w.logger.Info("wrappee binary changed, restarting", "path", w.path)
		if err := w.cfg.Restart(); err != nil {
			w.logger.Error("restart failed", "error", err)
		}
	}
}
