package risk

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"scorecard/ml"
	"scorecard/monitoring"
)

// BuildFunc turns a freshly loaded bundle into a Service.
type BuildFunc func(*ml.Bundle) (*Service, error)

// Watcher reloads the bundle file into a Holder whenever it changes.
type Watcher struct {
	path     string
	holder   *Holder
	build    BuildFunc
	logger   *zap.Logger
	debounce time.Duration
}

func NewWatcher(path string, holder *Holder, build BuildFunc, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		holder:   holder,
		build:    build,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
}

// Reload loads, validates and swaps in the bundle. On failure the current
// service stays in place.
func (w *Watcher) Reload() error {
	bundle, err := ml.LoadBundle(w.path)
	if err == nil {
		var svc *Service
		svc, err = w.build(bundle)
		if err == nil {
			w.holder.Store(svc)
			monitoring.RecordReload(true)
			w.logger.Info("model reloaded", zap.String("path", w.path), zap.String("fingerprint", svc.Fingerprint()))
			return nil
		}
	}
	monitoring.RecordReload(false)
	w.logger.Error("model reload failed, keeping current model", zap.String("path", w.path), zap.Error(err))
	return fmt.Errorf("reload %s: %w", w.path, err)
}

// Run watches the bundle's directory until ctx is done. Bursts of events are
// coalesced into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching model bundle", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.Reload()
		}
	}
}
