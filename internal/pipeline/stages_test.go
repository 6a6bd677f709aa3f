package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"crashdata/internal/config"
	"crashdata/internal/events"
	"crashdata/internal/jobs"
	"crashdata/internal/store"
	"crashdata/internal/summary"
)

const sampleCSV = "date,time,victim_type,gender,age,child_adult,charges\n" +
	"03/05/2016,11:45 PM,Pedestrian,F,34,Adult,DUI\n" +
	"03/06/2016,11:10 PM,Pedestrian,f,41,Adult,\n" +
	"03/07/2016,8:00 AM,Bicyclist,M,9,Child,DUI\n" +
	",02:00 AM,,,,Adult,Speeding\n"

func setupTest(t *testing.T) (config.Config, *store.Store, *events.Bus, jobs.Registry) {
	t.Helper()
	cfg := config.Config{
		DropDir:     t.TempDir(),
		WorkDir:     t.TempDir(),
		DBPath:      filepath.Join(t.TempDir(), "test.db"),
		QueueSize:   8,
		WorkerCount: 0,
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	bus := events.NewBus()
	return cfg, st, bus, BuildRegistry(cfg, st, bus)
}

func execCtx(cfg config.Config, st *store.Store, chained *[]jobs.Stage) jobs.ExecutionContext {
	return jobs.ExecutionContext{
		Cfg:   cfg,
		Store: st,
		Logf:  func(int64, string) {},
		Enqueue: func(ctx context.Context, filename string, stage jobs.Stage, params map[string]any) (*store.Job, error) {
			if chained != nil {
				*chained = append(*chained, stage)
			}
			return &store.Job{}, nil
		},
	}
}

func TestIngestStageCopiesFileAndChains(t *testing.T) {
	cfg, st, _, reg := setupTest(t)
	src := filepath.Join(cfg.DropDir, "march.csv")
	if err := os.WriteFile(src, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	var chained []jobs.Stage
	fn := reg[jobs.StageIngest]
	if fn == nil {
		t.Fatal("missing ingest handler")
	}
	if err := fn(context.Background(), execCtx(cfg, st, &chained), "march.csv", map[string]any{}); err != nil {
		t.Fatalf("ingest err: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.WorkDir, "march.csv")); err != nil {
		t.Fatalf("expected work copy: %v", err)
	}
	if len(chained) != 1 || chained[0] != jobs.StageNormalize {
		t.Fatalf("expected NORMALIZE chained, got %v", chained)
	}
}

func TestNormalizeStagePersistsLoad(t *testing.T) {
	cfg, st, _, reg := setupTest(t)
	if err := os.WriteFile(filepath.Join(cfg.WorkDir, "march.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	var chained []jobs.Stage
	if err := reg[jobs.StageNormalize](context.Background(), execCtx(cfg, st, &chained), "march.csv", map[string]any{}); err != nil {
		t.Fatalf("normalize err: %v", err)
	}

	load, err := st.FetchLoad(context.Background(), "march.csv")
	if err != nil {
		t.Fatal(err)
	}
	if load == nil {
		t.Fatal("load not persisted")
	}
	if load.Total != 4 || load.Complete != 3 {
		t.Fatalf("unexpected totals %+v", load)
	}
	want := []string{"Bicyclist", "unknown", "Pedestrian"}
	if len(load.CategoryOrder) != len(want) {
		t.Fatalf("category order %v", load.CategoryOrder)
	}
	for i := range want {
		if load.CategoryOrder[i] != want[i] {
			t.Fatalf("category order %v, want %v", load.CategoryOrder, want)
		}
	}
	if len(chained) != 1 || chained[0] != jobs.StageSummarize {
		t.Fatalf("expected SUMMARIZE chained, got %v", chained)
	}
}

func TestNormalizeStageFailsOnMissingColumn(t *testing.T) {
	cfg, st, _, reg := setupTest(t)
	bad := "date,gender\n03/05/2016,F\n"
	if err := os.WriteFile(filepath.Join(cfg.WorkDir, "bad.csv"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	err := reg[jobs.StageNormalize](context.Background(), execCtx(cfg, st, nil), "bad.csv", map[string]any{})
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestSummarizeStageStoresTables(t *testing.T) {
	cfg, st, _, reg := setupTest(t)
	if err := os.WriteFile(filepath.Join(cfg.WorkDir, "march.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := reg[jobs.StageNormalize](ctx, execCtx(cfg, st, nil), "march.csv", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := reg[jobs.StageSummarize](ctx, execCtx(cfg, st, nil), "march.csv", map[string]any{}); err != nil {
		t.Fatalf("summarize err: %v", err)
	}

	load, err := st.FetchLoad(ctx, "march.csv")
	if err != nil || load == nil {
		t.Fatalf("load fetch: %v", err)
	}
	payload, err := st.FetchSummary(ctx, load.ID)
	if err != nil {
		t.Fatal(err)
	}
	var s summary.Summary
	if err := json.Unmarshal(payload, &s); err != nil {
		t.Fatalf("summary payload: %v", err)
	}
	if s.Total != 4 || s.Complete != 3 {
		t.Fatalf("unexpected summary totals %+v", s)
	}
}

func TestSummarizeStageRequiresNormalize(t *testing.T) {
	cfg, st, _, reg := setupTest(t)
	err := reg[jobs.StageSummarize](context.Background(), execCtx(cfg, st, nil), "never.csv", map[string]any{})
	if err == nil {
		t.Fatal("expected error without prior normalize")
	}
}

func TestPublishStageReportsAndEmitsEvent(t *testing.T) {
	var got struct {
		Filename    string `json:"filename"`
		Total       int    `json:"total"`
		Complete    int    `json:"complete"`
		Incomplete  int    `json:"incomplete"`
		TopCategory string `json:"top_category"`
	}
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		received <- struct{}{}
	}))
	defer srv.Close()

	cfg, st, bus, _ := setupTest(t)
	cfg.ReportURL = srv.URL
	reg := BuildRegistry(cfg, st, bus)

	if err := os.WriteFile(filepath.Join(cfg.WorkDir, "march.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	evCh := bus.Subscribe()
	if err := reg[jobs.StageNormalize](ctx, execCtx(cfg, st, nil), "march.csv", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := reg[jobs.StagePublish](ctx, execCtx(cfg, st, nil), "march.csv", map[string]any{}); err != nil {
		t.Fatalf("publish err: %v", err)
	}

	<-received
	if got.Filename != "march.csv" || got.Total != 4 || got.Complete != 3 || got.Incomplete != 1 {
		t.Fatalf("unexpected report %+v", got)
	}
	if got.TopCategory != "Pedestrian" {
		t.Fatalf("expected most common category, got %s", got.TopCategory)
	}

	select {
	case ev := <-evCh:
		if ev.Filename != "march.csv" || ev.Total != 4 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected load event on bus")
	}
}
