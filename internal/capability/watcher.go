package capability

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// CatalogWatcher reloads a catalog file into a registry whenever it changes.
// A file that fails to parse is logged and the previous catalog stays active.
type CatalogWatcher struct {
	path     string
	registry *Registry
	logger   *slog.Logger
	debounce time.Duration
}

// NewCatalogWatcher creates a watcher for the catalog at path.
func NewCatalogWatcher(path string, registry *Registry, logger *slog.Logger) *CatalogWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogWatcher{
		path:     path,
		registry: registry,
		logger:   logger.With(slog.String("component", "catalog_watcher")),
		debounce: defaultWatchDebounce,
	}
}

// WithDebounce sets how long to wait for writes to settle before reloading.
func (w *CatalogWatcher) WithDebounce(d time.Duration) *CatalogWatcher {
	w.debounce = d
	return w
}

// Reload loads the catalog file and replaces the registry contents.
func (w *CatalogWatcher) Reload() error {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		return err
	}
	gen, err := w.registry.Replace(catalog)
	if err != nil {
		return fmt.Errorf("installing catalog: %w", err)
	}
	w.logger.Info("catalog reloaded",
		slog.String("path", w.path),
		slog.Uint64("generation", gen),
		slog.Int("csc_specs", len(catalog.Csc)),
		slog.Int("encoder_specs", len(catalog.Encoders)),
	)
	return nil
}

// Run watches the catalog until ctx is done. The parent directory is watched
// so editors that replace the file via rename are picked up.
func (w *CatalogWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Info("watching capability catalog", slog.String("path", w.path))

	target := filepath.Clean(w.path)
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("catalog file changed", slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("catalog reload failed, keeping previous catalog",
					slog.String("path", w.path),
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", slog.String("error", err.Error()))
		}
	}
}
