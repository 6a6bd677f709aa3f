package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"crashdata/internal/dataset"
)

// Store wraps SQLite access for loads, incidents, summaries, and jobs.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS loads (
			id TEXT PRIMARY KEY,
			filename TEXT UNIQUE,
			total INTEGER,
			complete INTEGER,
			category_order_json TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS incidents (
			load_id TEXT,
			seq INTEGER,
			date TEXT,
			time TEXT,
			victim_type TEXT,
			victim_category TEXT,
			gender TEXT,
			age INTEGER,
			child_adult TEXT,
			charges TEXT,
			occurred_at TIMESTAMP,
			fields_json TEXT,
			PRIMARY KEY (load_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			load_id TEXT PRIMARY KEY,
			payload_json TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT,
			stage TEXT,
			status TEXT,
			params_json TEXT,
			idempotency_key TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem ON jobs(idempotency_key);`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			job_id INTEGER,
			line TEXT,
			created_at TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load describes one ingested source file: row totals and the derived
// category order for that dataset.
type Load struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Total         int       `json:"total"`
	Complete      int       `json:"complete"`
	CategoryOrder []string  `json:"category_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Incident is one normalized record row as persisted.
type Incident struct {
	LoadID         string            `json:"load_id"`
	Seq            int               `json:"seq"`
	Date           string            `json:"date"`
	Time           string            `json:"time"`
	VictimType     string            `json:"victim_type"`
	VictimCategory string            `json:"victim_type_category"`
	Gender         string            `json:"gender"`
	Age            *int              `json:"age"`
	ChildAdult     string            `json:"child_adult"`
	Charges        string            `json:"charges"`
	OccurredAt     *time.Time        `json:"occurred_at,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Job represents a pipeline job persisted to DB.
type Job struct {
	ID             int64      `json:"id"`
	Filename       string     `json:"filename"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	ParamsJSON     string     `json:"params_json"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

// SaveLoad replaces the persisted dataset for filename inside one
// transaction. Re-saving the same file keeps its load ID stable.
func (s *Store) SaveLoad(ctx context.Context, filename string, ds dataset.Dataset, ts time.Time) (*Load, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	var createdAt time.Time
	row := tx.QueryRowContext(ctx, `SELECT id, created_at FROM loads WHERE filename=?`, filename)
	switch err := row.Scan(&id, &createdAt); err {
	case nil:
	case sql.ErrNoRows:
		id = uuid.NewString()
		createdAt = ts
	default:
		return nil, err
	}

	complete := len(ds.Complete())
	orderJSON, _ := json.Marshal(ds.CategoryOrder)
	if _, err := tx.ExecContext(ctx, `INSERT INTO loads(id, filename, total, complete, category_order_json, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(filename) DO UPDATE SET total=excluded.total, complete=excluded.complete, category_order_json=excluded.category_order_json, updated_at=excluded.updated_at`,
		id, filename, len(ds.Records), complete, string(orderJSON), createdAt, ts); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM incidents WHERE load_id=?`, id); err != nil {
		return nil, err
	}
	for seq, rec := range ds.Records {
		fieldsJSON, _ := json.Marshal(rec.Fields)
		var occurred *time.Time
		if rec.OccurredAt != nil {
			t := rec.OccurredAt.UTC()
			occurred = &t
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO incidents(load_id, seq, date, time, victim_type, victim_category, gender, age, child_adult, charges, occurred_at, fields_json)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, seq, rec.Date, rec.Time, rec.VictimType, rec.VictimCategory, rec.Gender, rec.Age, rec.ChildAdult, rec.Charges, occurred, string(fieldsJSON)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Load{ID: id, Filename: filename, Total: len(ds.Records), Complete: complete, CategoryOrder: ds.CategoryOrder, CreatedAt: createdAt, UpdatedAt: ts}, nil
}

func scanLoad(row interface{ Scan(...any) error }) (*Load, error) {
	var l Load
	var orderJSON sql.NullString
	switch err := row.Scan(&l.ID, &l.Filename, &l.Total, &l.Complete, &orderJSON, &l.CreatedAt, &l.UpdatedAt); err {
	case nil:
		if orderJSON.Valid {
			_ = json.Unmarshal([]byte(orderJSON.String), &l.CategoryOrder)
		}
		return &l, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

// FetchLoad returns the load row for filename, or nil if absent.
func (s *Store) FetchLoad(ctx context.Context, filename string) (*Load, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, total, complete, category_order_json, created_at, updated_at FROM loads WHERE filename=?`, filename)
	return scanLoad(row)
}

// LatestLoad returns the most recently updated load, or nil when empty.
func (s *Store) LatestLoad(ctx context.Context) (*Load, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, total, complete, category_order_json, created_at, updated_at FROM loads ORDER BY updated_at DESC LIMIT 1`)
	return scanLoad(row)
}

func (s *Store) ListLoads(ctx context.Context, limit int) ([]Load, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, total, complete, category_order_json, created_at, updated_at FROM loads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loads []Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, *l)
	}
	return loads, rows.Err()
}

// ListIncidents returns persisted records for a load in source order.
// completeOnly restricts to rows with a derived timestamp.
func (s *Store) ListIncidents(ctx context.Context, loadID string, completeOnly bool, limit int) ([]Incident, error) {
	q := `SELECT load_id, seq, date, time, victim_type, victim_category, gender, age, child_adult, charges, occurred_at, fields_json FROM incidents WHERE load_id=?`
	if completeOnly {
		q += ` AND occurred_at IS NOT NULL`
	}
	q += ` ORDER BY seq ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, loadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var incidents []Incident
	for rows.Next() {
		var in Incident
		var age sql.NullInt64
		var occurred sql.NullTime
		var fieldsJSON sql.NullString
		if err := rows.Scan(&in.LoadID, &in.Seq, &in.Date, &in.Time, &in.VictimType, &in.VictimCategory, &in.Gender, &age, &in.ChildAdult, &in.Charges, &occurred, &fieldsJSON); err != nil {
			return nil, err
		}
		if age.Valid {
			v := int(age.Int64)
			in.Age = &v
		}
		if occurred.Valid {
			t := occurred.Time
			in.OccurredAt = &t
		}
		if fieldsJSON.Valid {
			_ = json.Unmarshal([]byte(fieldsJSON.String), &in.Fields)
		}
		incidents = append(incidents, in)
	}
	return incidents, rows.Err()
}

// UpsertSummary stores the derived summary payload for a load.
func (s *Store) UpsertSummary(ctx context.Context, loadID string, payload []byte, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO summaries(load_id, payload_json, created_at) VALUES(?,?,?)
		ON CONFLICT(load_id) DO UPDATE SET payload_json=excluded.payload_json, created_at=excluded.created_at`,
		loadID, string(payload), ts)
	return err
}

// FetchSummary returns the summary payload for a load, or nil if absent.
func (s *Store) FetchSummary(ctx context.Context, loadID string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_json FROM summaries WHERE load_id=?`, loadID)
	var payload string
	switch err := row.Scan(&payload); err {
	case nil:
		return []byte(payload), nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Store) RecordJob(ctx context.Context, j *Job) (*Job, error) {
	if j.ParamsJSON == "" {
		j.ParamsJSON = "{}"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO jobs(filename, stage, status, params_json, idempotency_key, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
		j.Filename, j.Stage, j.Status, j.ParamsJSON, j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	j.ID = id
	return j, nil
}

// FetchJobByIdempotency returns existing job if present.
func (s *Store) FetchJobByIdempotency(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, stage, status, params_json, idempotency_key, created_at, updated_at, started_at, finished_at FROM jobs WHERE idempotency_key=?`, key)
	var j Job
	var started, finished sql.NullTime
	switch err := row.Scan(&j.ID, &j.Filename, &j.Stage, &j.Status, &j.ParamsJSON, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt, &started, &finished); err {
	case nil:
		if started.Valid {
			j.StartedAt = &started.Time
		}
		if finished.Valid {
			j.FinishedAt = &finished.Time
		}
		return &j, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Store) MarkJobStarted(ctx context.Context, id int64, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, started_at=?, updated_at=? WHERE id=?`, "running", ts, ts, id)
	return err
}

func (s *Store) MarkJobFinished(ctx context.Context, id int64, status string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, finished_at=?, updated_at=? WHERE id=?`, status, ts, ts, id)
	return err
}

func (s *Store) AppendJobLog(ctx context.Context, id int64, line string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_logs(job_id, line, created_at) VALUES(?,?,?)`, id, line, ts)
	return err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, stage, status, params_json, idempotency_key, created_at, updated_at, started_at, finished_at FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		var j Job
		var started, finished sql.NullTime
		if err := rows.Scan(&j.ID, &j.Filename, &j.Stage, &j.Status, &j.ParamsJSON, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt, &started, &finished); err != nil {
			return nil, err
		}
		if started.Valid {
			j.StartedAt = &started.Time
		}
		if finished.Valid {
			j.FinishedAt = &finished.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) JobLogs(ctx context.Context, jobID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id=? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

var ErrConflict = errors.New("idempotent job already exists")

// InsertJobIdempotent records a job if its idempotency key is new.
func (s *Store) InsertJobIdempotent(ctx context.Context, j *Job) (*Job, error) {
	existing, err := s.FetchJobByIdempotency(ctx, j.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrConflict
	}
	return s.RecordJob(ctx, j)
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
