package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadOps are the fsnotify operations that can change a policy source.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// source is the watched policy location. A single file is watched through
// its parent directory so editors that save by rename keep the watch.
type source struct {
	dir    string
	target string // set for single-file sources
	loader *Loader
}

func newSource(path string, loader *Loader) (source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return source{}, err
	}
	if info.IsDir() {
		return source{dir: path, loader: loader}, nil
	}
	target := filepath.Clean(path)
	return source{dir: filepath.Dir(target), target: target, loader: loader}, nil
}

// affects reports whether ev can change the loaded policy set.
func (s source) affects(ev fsnotify.Event) bool {
	if ev.Op&reloadOps == 0 {
		return false
	}
	name := filepath.Clean(ev.Name)
	if s.target != "" {
		return name == s.target
	}
	return filepath.Dir(name) == filepath.Clean(s.dir) && s.loader.isPolicyFile(filepath.Base(name))
}

// watch runs reload after each debounced change to src until ctx is
// cancelled. A rejected reload is logged and watching continues.
func watch(ctx context.Context, src source, interval time.Duration, reload func() error, logger *slog.Logger) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(src.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", src.dir, err)
	}

	debounce := NewDebouncer(interval)
	defer debounce.Stop()

	logger.Info("Watching policies",
		"path", src.dir,
		"file", src.target,
		"debounce_ms", interval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Policy watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("policy watcher events closed")
			}
			if !src.affects(ev) {
				continue
			}
			logger.Debug("Policy file changed", "path", ev.Name, "op", ev.Op.String())
			debounce.Trigger(func() {
				if err := reload(); err != nil {
					logger.Warn("Policy reload rejected", "error", err)
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("policy watcher errors closed")
			}
			logger.Error("Policy watcher error", "error", err)
		}
	}
}

// Debouncer runs only the last of a burst of triggers, once the burst has
// been quiet for the interval.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules fn after the interval, superseding any pending call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		current := gen == d.gen && !d.stopped
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Stop drops any pending call and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
