package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"crashdata/internal/config"
	"crashdata/internal/jobs"
)

// Watcher monitors the drop directory for new CSV files and enqueues
// ingest jobs.
type Watcher struct {
	cfg    config.Config
	runner *jobs.Runner
}

func New(cfg config.Config, runner *jobs.Runner) *Watcher {
	return &Watcher{cfg: cfg, runner: runner}
}

func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.EnableWatcher {
		log.Println("watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					if isCSV(evt.Name) {
						name := filepath.Base(evt.Name)
						_, _ = w.runner.Enqueue(ctx, name, jobs.StageIngest, map[string]any{})
					}
				}
			case err := <-watcher.Errors:
				log.Printf("watcher error: %v", err)
			}
		}
	}()
	return watcher.Add(w.cfg.DropDir)
}

// Backfill enqueues ingest for CSV files already present in the drop
// directory, returning how many were queued.
func (w *Watcher) Backfill(ctx context.Context) (int, error) {
	entries, err := filepath.Glob(filepath.Join(w.cfg.DropDir, "*"))
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, e := range entries {
		if isCSV(e) {
			if _, err := w.runner.Enqueue(ctx, filepath.Base(e), jobs.StageIngest, map[string]any{}); err == nil {
				queued++
			}
		}
	}
	return queued, nil
}

func isCSV(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".csv"
}
