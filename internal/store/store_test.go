package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crashdata/internal/config"
	"crashdata/internal/dataset"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testDataset(t *testing.T) dataset.Dataset {
	t.Helper()
	n, err := dataset.New("", "", "")
	if err != nil {
		t.Fatal(err)
	}
	return n.Normalize([]dataset.Record{
		{Date: "03/05/2016", Time: "11:45 PM", VictimType: "Driver"},
		{Date: "", Time: "02:00 AM", VictimType: "Pedestrian"},
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	ds := testDataset(t)

	load, err := st.SaveLoad(ctx, "march.csv", ds, config.Now())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if load.Total != 2 || load.Complete != 1 {
		t.Fatalf("unexpected totals: %+v", load)
	}

	fetched, err := st.FetchLoad(ctx, "march.csv")
	if err != nil {
		t.Fatal(err)
	}
	if fetched == nil || fetched.ID != load.ID {
		t.Fatalf("fetch mismatch: %+v", fetched)
	}
	if len(fetched.CategoryOrder) != 2 {
		t.Fatalf("expected category order persisted, got %v", fetched.CategoryOrder)
	}

	all, err := st.ListIncidents(ctx, load.ID, false, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(all))
	}
	if all[0].Seq != 0 || all[1].Seq != 1 {
		t.Fatalf("expected source order, got %d,%d", all[0].Seq, all[1].Seq)
	}

	complete, err := st.ListIncidents(ctx, load.ID, true, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(complete) != 1 || complete[0].OccurredAt == nil {
		t.Fatalf("expected 1 complete incident with timestamp, got %+v", complete)
	}
}

func TestSaveLoadKeepsIDStableOnResave(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	ds := testDataset(t)

	first, err := st.SaveLoad(ctx, "march.csv", ds, config.Now())
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.SaveLoad(ctx, "march.csv", ds, config.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("load id changed on resave: %s vs %s", first.ID, second.ID)
	}
	all, err := st.ListIncidents(ctx, first.ID, false, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("resave duplicated incidents: %d", len(all))
	}
}

func TestLatestLoad(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	ds := testDataset(t)

	ts := config.Now()
	if _, err := st.SaveLoad(ctx, "old.csv", ds, ts); err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveLoad(ctx, "new.csv", ds, ts.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	latest, err := st.LatestLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Filename != "new.csv" {
		t.Fatalf("expected new.csv, got %+v", latest)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	if err := st.UpsertSummary(ctx, "load-1", []byte(`{"total":2}`), config.Now()); err != nil {
		t.Fatal(err)
	}
	payload, err := st.FetchSummary(ctx, "load-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != `{"total":2}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	missing, err := st.FetchSummary(ctx, "load-2")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing summary")
	}
}

func TestInsertJobIdempotent(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	j := &Job{Filename: "march.csv", Stage: "INGEST", Status: "queued", IdempotencyKey: "abc", CreatedAt: config.Now(), UpdatedAt: config.Now()}
	first, err := st.InsertJobIdempotent(ctx, j)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := &Job{Filename: "march.csv", Stage: "INGEST", Status: "queued", IdempotencyKey: "abc", CreatedAt: config.Now(), UpdatedAt: config.Now()}
	second, err := st.InsertJobIdempotent(ctx, dup)
	if err != ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same job id, got %d vs %d", first.ID, second.ID)
	}
}

func TestHealth(t *testing.T) {
	st := openTest(t)
	if err := st.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
}
