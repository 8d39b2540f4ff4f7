package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one Pool.Run batch.
type Run struct {
	ID         string
	Cwd        string
	PID        int
	TaskCount  int
	Succeeded  int
	Failed     int
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TaskResult is the ledger row for one AgentResult.
type TaskResult struct {
	ID         int64
	RunID      string
	Agent      string
	TaskID     string
	Name       string
	ExitCode   int
	Truncated  bool
	Graceful   bool
	TokensIn   int64
	TokensOut  int64
	Cost       float64
	Duration   time.Duration
	Error      string
	OutputPath string
	RecordedAt time.Time
}

// StartRun inserts a running batch owned by this process.
func (db *DB) StartRun(runID, cwd string, tasks int) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, cwd, pid, task_count, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, cwd, os.Getpid(), tasks, RunRunning, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// RecordResult stores one task result.
func (db *DB) RecordResult(runID string, res models.AgentResult) error {
	outputPath := ""
	if res.Artifacts != nil {
		outputPath = res.Artifacts.Output
	}
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO task_results (run_id, agent, task_id, name, exit_code, truncated, graceful,
				tokens_in, tokens_out, cost, duration_ms, error, output_path, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, res.Agent, res.TaskID, res.Name, res.ExitCode, res.Truncated, res.GracefulShutdown,
			res.Progress.Tokens.Input, res.Progress.Tokens.Output, res.Progress.Tokens.Cost,
			res.Duration.Milliseconds(), res.Error, outputPath, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("insert task result: %w", err)
		}
		return nil
	})
}

// FinishRun closes a run with its totals.
func (db *DB) FinishRun(runID string, succeeded, failed int) error {
	status := RunCompleted
	if failed > 0 {
		status = RunFailed
	}
	return db.setFinished(runID, status, succeeded, failed)
}

func (db *DB) setFinished(runID string, status RunStatus, succeeded, failed int) error {
	return db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE runs SET status = ?, succeeded = ?, failed = ?, finished_at = ?
			WHERE id = ?`,
			status, succeeded, failed, formatTime(time.Now()), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// GetRun returns one run.
func (db *DB) GetRun(id string) (*Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, cwd, pid, task_count, succeeded, failed, status, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, cwd, pid, task_count, succeeded, failed, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.conn.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.conn.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ListResults returns the results of a run in recording order.
func (db *DB) ListResults(runID string) ([]TaskResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, run_id, agent, COALESCE(task_id, ''), COALESCE(name, ''), exit_code, truncated, graceful,
			tokens_in, tokens_out, cost, duration_ms, COALESCE(error, ''), COALESCE(output_path, ''), recorded_at
		FROM task_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []TaskResult
	for rows.Next() {
		var r TaskResult
		var durationMs int64
		var recorded string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Agent, &r.TaskID, &r.Name, &r.ExitCode, &r.Truncated, &r.Graceful,
			&r.TokensIn, &r.TokensOut, &r.Cost, &durationMs, &r.Error, &r.OutputPath, &recorded); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if t, err := parseTime(recorded); err == nil {
			r.RecordedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var status, started string
	var finished sql.NullString
	if err := s.Scan(&r.ID, &r.Cwd, &r.PID, &r.TaskCount, &r.Succeeded, &r.Failed, &status, &started, &finished); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	t, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	r.FinishedAt = parseNullableTime(finished)
	return &r, nil
}
