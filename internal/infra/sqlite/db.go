// Package sqlite provides SQLite-based persistent storage for LMX: the
// local model catalog (consumed by internal/infra/modelstore) and the
// durable run queue backend for the RunScheduler (C12).
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/lmx-project/lmx/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS models (
			name         TEXT PRIMARY KEY,
			digest       TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL,
			format       TEXT NOT NULL DEFAULT 'gguf',
			family       TEXT NOT NULL DEFAULT '',
			parameters   TEXT NOT NULL DEFAULT '',
			quantization TEXT NOT NULL DEFAULT '',
			pulled_at    INTEGER NOT NULL,
			last_used    INTEGER,
			pinned       BOOLEAN DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_used ON models(last_used)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id          TEXT PRIMARY KEY,
			priority        TEXT NOT NULL,
			priority_weight INTEGER NOT NULL,
			state           TEXT NOT NULL,
			request         TEXT NOT NULL,
			result          TEXT,
			error           TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			enqueued_at     INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_claim ON runs(state, priority_weight, enqueued_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_idempotency ON runs(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Model Repository ───────────────────────────────────────────────────────

// UpsertModel inserts or updates a model record.
func (d *DB) UpsertModel(info domain.ModelInfo) error {
	_, err := d.db.Exec(
		`INSERT INTO models (name, digest, size_bytes, format, family, parameters, quantization, pulled_at, last_used, pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			digest=excluded.digest,
			size_bytes=excluded.size_bytes,
			format=excluded.format,
			family=excluded.family,
			parameters=excluded.parameters,
			quantization=excluded.quantization,
			pulled_at=excluded.pulled_at,
			last_used=excluded.last_used,
			pinned=excluded.pinned`,
		info.Name, info.Digest, info.SizeBytes, info.Format,
		info.Family, info.Parameters, info.Quantization,
		info.PulledAt.Unix(), nullableUnix(info.LastUsed), info.Pinned,
	)
	return err
}

// GetModel retrieves a single model by name.
func (d *DB) GetModel(name string) (*domain.ModelInfo, error) {
	row := d.db.QueryRow(
		`SELECT name, digest, size_bytes, format, family, parameters, quantization, pulled_at, last_used, pinned
		 FROM models WHERE name = ?`, name,
	)
	return scanModel(row)
}

// ListModels returns all installed models ordered by last_used descending;
// a model never used sorts by its pulled_at time instead.
func (d *DB) ListModels() ([]domain.ModelInfo, error) {
	rows, err := d.db.Query(
		`SELECT name, digest, size_bytes, format, family, parameters, quantization, pulled_at, last_used, pinned
		 FROM models ORDER BY COALESCE(last_used, pulled_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.ModelInfo
	for rows.Next() {
		m, err := scanModelRows(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// DeleteModel removes a model record.
func (d *DB) DeleteModel(name string) error {
	result, err := d.db.Exec(`DELETE FROM models WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrModelNotFound
	}
	return nil
}

// TouchModel updates the last_used timestamp.
func (d *DB) TouchModel(name string) error {
	_, err := d.db.Exec(
		`UPDATE models SET last_used = ? WHERE name = ?`,
		time.Now().Unix(), name,
	)
	return err
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Run Repository (durable RunScheduler backend, C12) ───────────────────

// InsertRun persists a new run row in "queued" state. If idempotencyKey is
// non-empty and already bound to a run, InsertRun returns the existing run
// id instead of inserting a duplicate.
func (d *DB) InsertRun(run domain.AgentRun) (runID string, existed bool, err error) {
	if run.IdempotencyKey != "" {
		var existingID string
		err := d.db.QueryRow(`SELECT run_id FROM runs WHERE idempotency_key = ?`, run.IdempotencyKey).Scan(&existingID)
		if err == nil {
			return existingID, true, nil
		}
		if err != sql.ErrNoRows {
			return "", false, err
		}
	}

	reqJSON, err := json.Marshal(run.Request)
	if err != nil {
		return "", false, fmt.Errorf("marshal run request: %w", err)
	}

	var idempotency any
	if run.IdempotencyKey != "" {
		idempotency = run.IdempotencyKey
	}

	_, err = d.db.Exec(
		`INSERT INTO runs (run_id, priority, priority_weight, state, request, result, error, idempotency_key, enqueued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, '', ?, ?, ?)`,
		run.ID, string(run.Priority), run.Priority.Weight(), string(domain.RunQueued),
		string(reqJSON), idempotency, run.CreatedAt.Unix(), run.CreatedAt.Unix(),
	)
	if err != nil {
		return "", false, err
	}
	return run.ID, false, nil
}

// ClaimNextRun atomically claims the highest-priority, earliest-enqueued
// queued run and marks it "running". Returns nil, nil if the queue is empty.
func (d *DB) ClaimNextRun() (*domain.AgentRun, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRow(
		`SELECT run_id, priority, state, request, result, error, idempotency_key, enqueued_at, updated_at
		 FROM runs WHERE state = ?
		 ORDER BY priority_weight ASC, enqueued_at ASC LIMIT 1`, string(domain.RunQueued))

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE runs SET state = ?, updated_at = ? WHERE run_id = ?`,
		string(domain.RunRunning), now.Unix(), run.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	run.Status = domain.RunRunning
	run.UpdatedAt = now
	return run, nil
}

// UpdateRunStatus transitions a run to a terminal (or running) status,
// recording its result/error.
func (d *DB) UpdateRunStatus(runID string, status domain.RunStatus, result map[string]any, runErr string) error {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal run result: %w", err)
		}
		resultJSON = string(data)
	}
	_, err := d.db.Exec(
		`UPDATE runs SET state = ?, result = ?, error = ?, updated_at = ? WHERE run_id = ?`,
		string(status), resultJSON, runErr, time.Now().Unix(), runID,
	)
	return err
}

// GetRun fetches a single run by id.
func (d *DB) GetRun(runID string) (*domain.AgentRun, error) {
	row := d.db.QueryRow(
		`SELECT run_id, priority, state, request, result, error, idempotency_key, enqueued_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns runs ordered by most-recently-updated first.
func (d *DB) ListRuns(limit int) ([]domain.AgentRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT run_id, priority, state, request, result, error, idempotency_key, enqueued_at, updated_at
		 FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// ReenqueueOrphanedRuns re-enqueues any run left in "running" state (from a
// crash mid-run) to the head of its priority class, per §4.10. Called once
// at startup before workers begin claiming.
func (d *DB) ReenqueueOrphanedRuns() (int, error) {
	result, err := d.db.Exec(
		`UPDATE runs SET state = ?, enqueued_at = ?, updated_at = ? WHERE state = ?`,
		string(domain.RunQueued), 0, time.Now().Unix(), string(domain.RunRunning),
	)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanModel(s scanner) (*domain.ModelInfo, error) {
	var m domain.ModelInfo
	var pulledAt int64
	var lastUsed sql.NullInt64

	err := s.Scan(&m.Name, &m.Digest, &m.SizeBytes, &m.Format,
		&m.Family, &m.Parameters, &m.Quantization,
		&pulledAt, &lastUsed, &m.Pinned)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	m.PulledAt = time.Unix(pulledAt, 0)
	if lastUsed.Valid {
		m.LastUsed = time.Unix(lastUsed.Int64, 0)
	}
	return &m, nil
}

func scanModelRows(rows *sql.Rows) (*domain.ModelInfo, error) {
	return scanModel(rows)
}

func scanRun(s scanner) (*domain.AgentRun, error) {
	var run domain.AgentRun
	var priority, state string
	var reqJSON string
	var resultJSON sql.NullString
	var idempotency sql.NullString
	var enqueuedAt, updatedAt int64

	err := s.Scan(&run.ID, &priority, &state, &reqJSON, &resultJSON, &run.Error, &idempotency, &enqueuedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.Priority = domain.RunPriority(priority)
	run.Status = domain.RunStatus(state)
	run.CreatedAt = time.Unix(enqueuedAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)
	if idempotency.Valid {
		run.IdempotencyKey = idempotency.String
	}
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, fmt.Errorf("unmarshal run request: %w", err)
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &run.Result); err != nil {
			return nil, fmt.Errorf("unmarshal run result: %w", err)
		}
	}
	return &run, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
