package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"crashdata/internal/config"
	"crashdata/internal/jobs"
	"crashdata/internal/metrics"
	"crashdata/internal/store"
	"crashdata/internal/summary"
)

// Router builds HTTP handlers for /api and /ops. All /api surfaces are
// read-only views over the normalized tables and derived summaries.
type Router struct {
	cfg      config.Config
	store    *store.Store
	runner   *jobs.Runner
	backfill func(ctx context.Context) (int, error)
}

func NewRouter(cfg config.Config, st *store.Store, runner *jobs.Runner, backfill func(ctx context.Context) (int, error)) *Router {
	return &Router{cfg: cfg, store: st, runner: runner, backfill: backfill}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/metrics", r.metrics)
	mux.HandleFunc("/ops/jobs", r.jobs)
	mux.HandleFunc("/ops/jobs/enqueue", r.enqueue)
	mux.HandleFunc("/ops/jobs/", r.jobDetail)
	mux.HandleFunc("/ops/backfill", r.runBackfill)
	mux.HandleFunc("/api/loads", r.loads)
	mux.HandleFunc("/api/records", r.records)
	mux.HandleFunc("/api/records/complete", r.completeRecords)
	mux.HandleFunc("/api/category-order", r.categoryOrder)
	mux.HandleFunc("/api/summary", r.wholeSummary)
	mux.HandleFunc("/api/summary/", r.summaryTable)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	loads, _ := r.store.ListLoads(ctx, 5)
	jobList, _ := r.store.ListJobs(ctx, 10)
	respondJSON(w, map[string]any{"loads": loads, "jobs": jobList, "workers": r.cfg.WorkerCount})
}

func (r *Router) metrics(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, metrics.Snapshot())
}

func (r *Router) jobs(w http.ResponseWriter, req *http.Request) {
	list, err := r.store.ListJobs(req.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (r *Router) enqueue(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Filename string      `json:"filename"`
		Stage    jobs.Stage  `json:"stage"`
		Params   interface{} `json:"params"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, ok := body.Params.(map[string]any)
	if !ok {
		p = map[string]any{}
	}
	job, err := r.runner.Enqueue(req.Context(), body.Filename, body.Stage, p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, job)
}

func (r *Router) jobDetail(w http.ResponseWriter, req *http.Request) {
	// /ops/jobs/{id} or /ops/jobs/{id}/logs
	path := req.URL.Path
	if strings.HasSuffix(path, "/logs") {
		idStr := strings.TrimSuffix(strings.TrimPrefix(path, "/ops/jobs/"), "/logs")
		id, _ := strconv.ParseInt(idStr, 10, 64)
		logs, err := r.store.JobLogs(req.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(logs) == 0 {
			logs = r.runner.Logs(id)
		}
		respondJSON(w, logs)
		return
	}
	idStr := strings.TrimPrefix(path, "/ops/jobs/")
	id, _ := strconv.ParseInt(idStr, 10, 64)
	list, err := r.store.ListJobs(req.Context(), 200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, j := range list {
		if j.ID == id {
			respondJSON(w, j)
			return
		}
	}
	http.NotFound(w, req)
}

func (r *Router) runBackfill(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	queued, err := r.backfill(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"status": "queued", "files": queued})
}

func (r *Router) loads(w http.ResponseWriter, req *http.Request) {
	list, err := r.store.ListLoads(req.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

// resolveLoad picks the load named by ?file= or falls back to the latest.
func (r *Router) resolveLoad(req *http.Request) (*store.Load, error) {
	if file := req.URL.Query().Get("file"); file != "" {
		return r.store.FetchLoad(req.Context(), file)
	}
	return r.store.LatestLoad(req.Context())
}

func (r *Router) records(w http.ResponseWriter, req *http.Request) {
	r.serveRecords(w, req, req.URL.Query().Get("complete") == "1")
}

func (r *Router) completeRecords(w http.ResponseWriter, req *http.Request) {
	r.serveRecords(w, req, true)
}

func (r *Router) serveRecords(w http.ResponseWriter, req *http.Request, completeOnly bool) {
	load, err := r.resolveLoad(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if load == nil {
		http.Error(w, "no dataset loaded", http.StatusNotFound)
		return
	}
	limit := 10000
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	incidents, err := r.store.ListIncidents(req.Context(), load.ID, completeOnly, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"load": load, "records": incidents})
}

func (r *Router) categoryOrder(w http.ResponseWriter, req *http.Request) {
	load, err := r.resolveLoad(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if load == nil {
		http.Error(w, "no dataset loaded", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]any{"load_id": load.ID, "category_order": load.CategoryOrder})
}

func (r *Router) wholeSummary(w http.ResponseWriter, req *http.Request) {
	s, ok := r.fetchSummary(w, req)
	if !ok {
		return
	}
	respondJSON(w, s)
}

func (r *Router) summaryTable(w http.ResponseWriter, req *http.Request) {
	table := strings.TrimPrefix(req.URL.Path, "/api/summary/")
	s, ok := r.fetchSummary(w, req)
	if !ok {
		return
	}
	switch table {
	case "victim-types":
		respondJSON(w, s.VictimTypes)
	case "hourly":
		respondJSON(w, s.Hourly)
	case "weekdays":
		respondJSON(w, s.Weekdays)
	case "ages":
		respondJSON(w, s.Ages)
	case "genders":
		respondJSON(w, s.Genders)
	case "victim-mix":
		respondJSON(w, s.VictimMix)
	case "charges":
		respondJSON(w, s.Charges)
	default:
		http.NotFound(w, req)
	}
}

func (r *Router) fetchSummary(w http.ResponseWriter, req *http.Request) (summary.Summary, bool) {
	var s summary.Summary
	load, err := r.resolveLoad(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return s, false
	}
	if load == nil {
		http.Error(w, "no dataset loaded", http.StatusNotFound)
		return s, false
	}
	payload, err := r.store.FetchSummary(req.Context(), load.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return s, false
	}
	if payload == nil {
		http.Error(w, "summary not computed yet", http.StatusNotFound)
		return s, false
	}
	if err := json.Unmarshal(payload, &s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return s, false
	}
	return s, true
}

func respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json: %v", err)
	}
}
