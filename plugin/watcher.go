package plugin

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ArchiveExt is the file extension the watcher considers a plugin
// archive.
const ArchiveExt = ".zip"

// settleDelay is how long the watcher waits after the last write event
// before loading an archive, so half-copied files are not picked up.
const settleDelay = 500 * time.Millisecond

// Watcher hot-loads plugin archives dropped into a directory. Created
// archives are loaded through the registry's normal scan-gated path;
// removed archives unregister the plugin they produced.
type Watcher struct {
	logger   *slog.Logger
	registry *Registry
	dir      string

	fw *fsnotify.Watcher

	// mu guards byPath and pending; settle timers fire on their own
	// goroutines.
	mu sync.Mutex

	// byPath maps an archive path to the plugin id it registered.
	byPath map[string]string

	pending map[string]*time.Timer
	done    chan struct{}
}

// NewWatcher creates a watcher for dir. Call Run to start it.
func NewWatcher(logger *slog.Logger, registry *Registry, dir string) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		logger:   logger,
		registry: registry,
		dir:      dir,
		fw:       fw,
		byPath:   make(map[string]string),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// LoadExisting loads every archive already present in the watched
// directory. Per-archive failures are logged and skipped.
func (w *Watcher) LoadExisting(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*"+ArchiveExt))
	if err != nil {
		w.logger.Warn("Archive directory scan failed", "dir", w.dir, "error", err)
		return
	}
	for _, path := range matches {
		w.load(ctx, path)
	}
}

// Run processes filesystem events until ctx is cancelled or Close is
// called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ArchiveExt) {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
				w.scheduleLoad(ctx, event.Name)
			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				w.unload(event.Name)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Archive watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

// scheduleLoad debounces write bursts: each event resets the archive's
// settle timer.
func (w *Watcher) scheduleLoad(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.load(ctx, path)
	})
}

func (w *Watcher) load(ctx context.Context, path string) {
	// Replacing an archive in place re-registers its plugin.
	w.mu.Lock()
	if id, ok := w.byPath[path]; ok {
		delete(w.byPath, path)
		w.mu.Unlock()
		if err := w.registry.Unregister(id); err != nil {
			w.logger.Warn("Stale plugin unregister failed", "plugin_id", id, "error", err)
		}
	} else {
		w.mu.Unlock()
	}

	info, _, err := w.registry.LoadArchive(ctx, path)
	if err != nil {
		w.logger.Warn("Archive load failed", "path", path, "error", err)
		return
	}
	w.mu.Lock()
	w.byPath[path] = info.PluginID
	w.mu.Unlock()
}

func (w *Watcher) unload(path string) {
	w.mu.Lock()
	id, ok := w.byPath[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.byPath, path)
	w.mu.Unlock()
	if err := w.registry.Unregister(id); err != nil {
		w.logger.Warn("Archive unload failed", "plugin_id", id, "error", err)
		return
	}
	w.logger.Info("Unloaded plugin archive", "plugin_id", id, "path", path)
}
