package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads a policy file when it changes on disk. A file that fails to
// parse is logged and ignored; the previous policy stays in effect.
type Watcher struct {
	path     string
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Policy)
	debounce time.Duration
}

func NewWatcher(path string, logger *logging.Logger, onChange func(*Policy)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("policy path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		logger:   logger,
		watcher:  fw,
		onChange: onChange,
		debounce: reloadDebounce,
	}, nil
}

// Run blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", logging.F("error", err))
		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.logger.Error("policy reload failed", logging.F("path", w.path), logging.F("error", err))
		return
	}
	w.logger.Info("policy reloaded", logging.F("path", w.path), logging.F("version", p.Version))
	if w.onChange != nil {
		w.onChange(p)
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
