// Package store provides SQLite-backed persistence for run history and
// audit records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist or is already closed.
var ErrNotFound = errors.New("not found")

// Store provides access to the launcher SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		process_id TEXT NOT NULL,
		display_name TEXT,
		command TEXT NOT NULL,
		args TEXT,
		dir TEXT,
		pid INTEGER,
		end_reason TEXT,
		exit_code INTEGER,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		process_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_process_id ON runs(process_id);
	CREATE INDEX IF NOT EXISTS idx_runs_open ON runs(ended_at);
	CREATE INDEX IF NOT EXISTS idx_pdr_process_id ON pdr(process_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// CreateRun inserts an open run. The run keeps the id it was given.
func (s *Store) CreateRun(run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	argsJSON, _ := json.Marshal(run.Args)

	_, err := s.db.Exec(
		`INSERT INTO runs (id, process_id, display_name, command, args, dir, pid, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProcessID, run.DisplayName, run.Command, string(argsJSON), run.Dir, run.PID, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun closes an open run.
func (s *Store) FinishRun(id string, reason models.EndReason, exitCode *int, endedAt time.Time) error {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	res, err := s.db.Exec(
		`UPDATE runs SET end_reason = ?, exit_code = ?, ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		string(reason), code, endedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("open run %s: %w", id, ErrNotFound)
	}
	return nil
}

// CloseOrphanedRuns ends every run still open, which only happens when a
// previous launcher died without shutting down. It returns how many runs
// were closed.
func (s *Store) CloseOrphanedRuns() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE runs SET end_reason = ?, ended_at = ? WHERE ended_at IS NULL`,
		string(models.EndReasonOrphaned), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("close orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first. An empty processID
// lists runs of every process.
func (s *Store) ListRuns(processID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if processID != "" {
		rows, err = s.db.Query(
			`SELECT `+runColumns+` FROM runs WHERE process_id = ? ORDER BY started_at DESC LIMIT ?`,
			processID, limit,
		)
	} else {
		rows, err = s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const runColumns = `id, process_id, display_name, command, args, dir, pid, end_reason, exit_code, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*models.Run, error) {
	var run models.Run
	var displayName, argsJSON, dir, reason sql.NullString
	var pid, exitCode sql.NullInt64
	var endedAt sql.NullTime

	if err := sc.Scan(&run.ID, &run.ProcessID, &displayName, &run.Command, &argsJSON, &dir, &pid, &reason, &exitCode, &run.StartedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.DisplayName = displayName.String
	run.Dir = dir.String
	run.PID = int(pid.Int64)
	run.EndReason = models.EndReason(reason.String)
	if argsJSON.String != "" {
		json.Unmarshal([]byte(argsJSON.String), &run.Args)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, processID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		ProcessID:  processID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, process_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.ProcessID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDRs returns the most recent decision records, newest first.
func (s *Store) ListPDRs(limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, process_id, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var processID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &processID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.ProcessID = processID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
