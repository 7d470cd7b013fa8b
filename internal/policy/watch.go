package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a policy file into an Evaluator when it changes.
// Invalid edits are reported on Errors and leave the active policy in place.
type Watcher struct {
	path     string
	eval     *Evaluator
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	onChange []func(Config)

	ctx     context.Context
	cancel  context.CancelFunc
	errChan chan error
	done    chan struct{}
}

// NewWatcher creates a watcher for path feeding eval.
func NewWatcher(path string, eval *Evaluator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		eval:     eval,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file on save are still seen.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = watcher
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// Reload reads the file now and applies it if valid.
func (w *Watcher) Reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.report(fmt.Errorf("reload policy: %w", err))
		return
	}
	if err := w.eval.Update(cfg); err != nil {
		w.report(fmt.Errorf("apply policy: %w", err))
		return
	}
	w.logger.Info("policy reloaded", "path", w.path, "mode", cfg.EffectiveMode(), "chains", len(cfg.Chains))

	w.mu.Lock()
	callbacks := append([]func(Config){}, w.onChange...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (w *Watcher) report(err error) {
	w.logger.Warn("policy watcher error", "path", w.path, "error", err)
	select {
	case w.errChan <- err:
	default:
	}
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(cb func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching.
func (w *Watcher) Errors() <-chan error {
	return w.errChan
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
