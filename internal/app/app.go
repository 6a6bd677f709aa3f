package app

import (
	"context"
	"log"
	"net/http"
	"os"

	"crashdata/internal/config"
	"crashdata/internal/events"
	"crashdata/internal/httpapi"
	"crashdata/internal/jobs"
	"crashdata/internal/pipeline"
	"crashdata/internal/store"
	"crashdata/internal/watch"
)

// App wires the data plane components together.
type App struct {
	cfg     config.Config
	store   *store.Store
	bus     *events.Bus
	runner  *jobs.Runner
	watcher *watch.Watcher
	mux     *http.ServeMux
}

func New(cfg config.Config) (*App, error) {
	for _, dir := range []string{cfg.DropDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus()
	registry := pipeline.BuildRegistry(cfg, st, bus)
	runner := jobs.NewRunner(cfg, st, registry)
	watcher := watch.New(cfg, runner)
	mux := http.NewServeMux()
	router := httpapi.NewRouter(cfg, st, runner, watcher.Backfill)
	router.Register(mux)
	return &App{cfg: cfg, store: st, bus: bus, runner: runner, watcher: watcher, mux: mux}, nil
}

// Run starts workers, the watcher, and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	go a.logLoads(ctx)
	srv := &http.Server{Addr: ":" + a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Printf("http listening on %s", a.cfg.HTTPPort)
	return srv.ListenAndServe()
}

// logLoads surfaces completed loads, including the incomplete-row delta
// that is otherwise only visible through subset sizes.
func (a *App) logLoads(ctx context.Context) {
	ch := a.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			log.Printf("load complete: file=%s rows=%d complete=%d incomplete=%d top=%s",
				ev.Filename, ev.Total, ev.Complete, ev.Total-ev.Complete, ev.TopCategory)
		}
	}
}

// EnqueueStage exposes the pipeline for tests and the control plane.
func (a *App) EnqueueStage(ctx context.Context, filename string, stage jobs.Stage, params map[string]any) (*store.Job, error) {
	return a.runner.Enqueue(ctx, filename, stage, params)
}

func (a *App) Runner() *jobs.Runner { return a.runner }
func (a *App) Store() *store.Store  { return a.store }
func (a *App) Bus() *events.Bus     { return a.bus }
func (a *App) Mux() *http.ServeMux  { return a.mux }
