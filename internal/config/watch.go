package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads configuration when any of the watched files change. A
// reload that fails to load or validate is logged and dropped; the previous
// configuration stays in effect.
type Watcher struct {
	files    map[string]bool
	load     func() (*Config, error)
	onChange func(*Config)
	debounce time.Duration

	fsw   *fsnotify.Watcher
	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher watches files (typically the user and project config paths).
// Their parent directories are watched so that atomic rename-on-save is
// seen. load re-reads the configuration; onChange receives each valid
// result.
func NewWatcher(files []string, load func() (*Config, error), onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]bool, len(files)),
		load:     load,
		onChange: onChange,
		debounce: DefaultReloadDebounce,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		// Missing directories are skipped; there is nothing to reload.
		if err := fsw.Add(dir); err != nil {
			slog.Debug("config_watch_skip", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !w.files[abs] {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		slog.Warn("config_reload_rejected", slog.String("error", err.Error()))
		return
	}
	slog.Info("config_reloaded")
	w.onChange(cfg)
}
