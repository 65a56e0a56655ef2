package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"avsrt/internal/pipeline"
	"avsrt/internal/services"
)

// Status is the outcome recorded for a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one pipeline invocation.
type Run struct {
	ID             string
	VideoPath      string
	Workspace      string
	Status         Status
	Translate      bool
	TargetLanguage string
	ErrorKind      string
	ErrorMessage   string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Duration returns the run length, or the time since start while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageRecord is one stored stage event.
type StageRecord struct {
	Stage      string
	Event      string
	RequestID  string
	Duration   time.Duration
	Detail     string
	RecordedAt time.Time
}

// BeginRun inserts run with status running.
func (l *Ledger) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("begin run: id required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	err := l.exec(ctx, `INSERT INTO runs (id, video_path, workspace, status, translate, target_language, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.VideoPath,
		nullableString(run.Workspace),
		StatusRunning,
		boolToInt(run.Translate),
		nullableString(run.TargetLanguage),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// SetWorkspace records the resolved workspace once it is known.
func (l *Ledger) SetWorkspace(ctx context.Context, runID, workspace string) error {
	if err := l.exec(ctx, "UPDATE runs SET workspace = ? WHERE id = ?", workspace, runID); err != nil {
		return fmt.Errorf("set workspace: %w", err)
	}
	return nil
}

// FinishRun stamps the outcome of runID. A nil runErr means success.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := StatusSucceeded
	var kind, message string
	if runErr != nil {
		status = StatusFailed
		k := services.Classify(runErr)
		if k == services.KindCanceled {
			status = StatusCanceled
		}
		kind = string(k)
		message = runErr.Error()
	}
	err := l.exec(ctx, `UPDATE runs SET status = ?, error_kind = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status,
		nullableString(kind),
		nullableString(message),
		formatTime(time.Now()),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// StageEvent stores a runner event. It satisfies pipeline.Observer.
func (l *Ledger) StageEvent(ctx context.Context, event pipeline.Event) error {
	var detail string
	switch {
	case event.Err != nil:
		detail = event.Err.Error()
	case event.Detail != "":
		detail = event.Detail
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	err := l.exec(ctx, `INSERT INTO stage_events (run_id, stage, event, request_id, duration_ms, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Stage,
		string(event.Kind),
		nullableString(event.RequestID),
		event.Duration.Milliseconds(),
		nullableString(detail),
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("record stage event: %w", err)
	}
	return nil
}

// RecordCounters replaces the stored counters for runID.
func (l *Ledger) RecordCounters(ctx context.Context, runID string, counters map[string]int64) error {
	return retryOnBusy(ctx, func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin counters tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, "DELETE FROM run_counters WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear counters: %w", err)
		}
		for name, value := range counters {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO run_counters (run_id, name, value) VALUES (?, ?, ?)", runID, name, value); err != nil {
				return fmt.Errorf("insert counter %s: %w", name, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = "id, video_path, workspace, status, translate, target_language, error_kind, error_message, started_at, finished_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		workspace   sql.NullString
		status      string
		translate   int
		target      sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.VideoPath,
		&workspace,
		&status,
		&translate,
		&target,
		&errorKind,
		&errorMsg,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Run{}, err
	}
	run.Workspace = workspace.String
	run.Status = Status(status)
	run.Translate = translate != 0
	run.TargetLanguage = target.String
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMsg.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return run, nil
}

// GetRun returns the run with id, or services.ErrNotFound.
func (l *Ledger) GetRun(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunStages returns the stage events of runID in the order recorded.
func (l *Ledger) RunStages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, event, request_id, duration_ms, detail, recorded_at
		FROM stage_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	defer rows.Close()
	var records []StageRecord
	for rows.Next() {
		var (
			rec        StageRecord
			requestID  sql.NullString
			durationMS int64
			detail     sql.NullString
			recorded   string
		)
		if err := rows.Scan(&rec.Stage, &rec.Event, &requestID, &durationMS, &detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		rec.RequestID = requestID.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Detail = detail.String
		if at, err := parseTimeString(recorded); err == nil {
			rec.RecordedAt = at
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RunCounters returns the stored counters of runID.
func (l *Ledger) RunCounters(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT name, value FROM run_counters WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()
	counters := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		counters[name] = value
	}
	return counters, rows.Err()
}
