package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"crashdata/internal/config"
	"crashdata/internal/dataset"
	"crashdata/internal/events"
	"crashdata/internal/jobs"
	"crashdata/internal/metrics"
	"crashdata/internal/notify"
	"crashdata/internal/store"
	"crashdata/internal/summary"
)

// BuildRegistry wires deterministic stage functions. Each stage chains the
// next through the execution context, so one INGEST enqueue carries a file
// all the way to PUBLISH.
func BuildRegistry(cfg config.Config, st *store.Store, bus *events.Bus) jobs.Registry {
	return jobs.Registry{
		jobs.StageIngest:    ingestStage(cfg),
		jobs.StageNormalize: normalizeStage(cfg),
		jobs.StageSummarize: summarizeStage(cfg),
		jobs.StagePublish:   publishStage(cfg, bus),
	}
}

func ingestStage(cfg config.Config) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) error {
		src := filepath.Join(cfg.DropDir, filename)
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return err
		}
		dst := filepath.Join(cfg.WorkDir, filename)
		if _, err := copyFile(src, dst); err != nil {
			return err
		}
		exec.Logf(paramsInt64(params, "job_id"), fmt.Sprintf("ingest copied %s", dst))
		_, err := exec.Enqueue(ctx, filename, jobs.StageNormalize, map[string]any{})
		return err
	}
}

func normalizeStage(cfg config.Config) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) error {
		ds, err := loadDataset(cfg, filename)
		if err != nil {
			metrics.IncLoadsFailed()
			return err
		}
		load, err := exec.Store.SaveLoad(ctx, filename, ds, config.Now())
		if err != nil {
			metrics.IncLoadsFailed()
			return err
		}
		metrics.IncLoadsSucceeded()
		metrics.AddRows(load.Total, load.Total-load.Complete)
		exec.Logf(paramsInt64(params, "job_id"), fmt.Sprintf("normalized %s: load=%s rows=%d complete=%d", filename, load.ID, load.Total, load.Complete))
		_, err = exec.Enqueue(ctx, filename, jobs.StageSummarize, map[string]any{})
		return err
	}
}

func summarizeStage(cfg config.Config) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) error {
		load, err := exec.Store.FetchLoad(ctx, filename)
		if err != nil {
			return err
		}
		if load == nil {
			return fmt.Errorf("no load for %s, normalize first", filename)
		}
		ds, err := loadDataset(cfg, filename)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(summary.Compute(ds))
		if err != nil {
			return err
		}
		if err := exec.Store.UpsertSummary(ctx, load.ID, payload, config.Now()); err != nil {
			return err
		}
		exec.Logf(paramsInt64(params, "job_id"), fmt.Sprintf("summarized %s", filename))
		_, err = exec.Enqueue(ctx, filename, jobs.StagePublish, map[string]any{})
		return err
	}
}

func publishStage(cfg config.Config, bus *events.Bus) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) error {
		load, err := exec.Store.FetchLoad(ctx, filename)
		if err != nil {
			return err
		}
		if load == nil {
			return fmt.Errorf("no load for %s, normalize first", filename)
		}
		top := ""
		if n := len(load.CategoryOrder); n > 0 {
			top = load.CategoryOrder[n-1]
		}
		report := notify.Report{
			Filename:    filename,
			Total:       load.Total,
			Complete:    load.Complete,
			Incomplete:  load.Total - load.Complete,
			TopCategory: top,
		}
		if err := notify.SendReport(cfg, report); err != nil {
			log.Printf("report webhook failed: %v", err)
		}
		bus.Publish(events.LoadCompleted{
			LoadID:      load.ID,
			Filename:    filename,
			Total:       load.Total,
			Complete:    load.Complete,
			TopCategory: top,
		})
		exec.Logf(paramsInt64(params, "job_id"), fmt.Sprintf("published %s", filename))
		return nil
	}
}

// loadDataset reads and normalizes the working copy of a dropped file.
// Normalization is pure, so summarize can re-derive the same dataset the
// normalize stage persisted.
func loadDataset(cfg config.Config, filename string) (dataset.Dataset, error) {
	rows, err := dataset.ReadFile(filepath.Join(cfg.WorkDir, filename))
	if err != nil {
		return dataset.Dataset{}, err
	}
	n, err := dataset.New(cfg.Timezone, cfg.DateLayout, cfg.TimeLayout)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return n.Normalize(rows), nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return out.ReadFrom(in)
}

func paramsInt64(m map[string]any, key string) int64 {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return int64(t)
		case int64:
			return t
		case int:
			return int64(t)
		}
	}
	return 0
}
