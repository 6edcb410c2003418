package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"talkreel/internal/tasks"
)

// Store is the SQLite archive of finished tasks.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed-width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = "id, kind, status, progress, current_step, total_steps, message, details_json, log_json, start_time, end_time"

// Open creates or connects to the archive at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the archive file.
func (s *Store) Path() string {
	return s.path
}

// Save archives a terminal task, replacing an earlier snapshot with the same
// id. Running tasks are rejected.
func (s *Store) Save(ctx context.Context, task tasks.Task) error {
	if !task.Status.Terminal() {
		return fmt.Errorf("archive task %s: status %s is not terminal", task.ID, task.Status)
	}
	details, err := json.Marshal(task.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	logJSON, err := json.Marshal(task.Log)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	return s.execWithRetry(ctx,
		`INSERT INTO tasks (
            id, kind, status, progress, current_step, total_steps, message,
            details_json, log_json, start_time, end_time, archived_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            kind = excluded.kind, status = excluded.status, progress = excluded.progress,
            current_step = excluded.current_step, total_steps = excluded.total_steps,
            message = excluded.message, details_json = excluded.details_json,
            log_json = excluded.log_json, start_time = excluded.start_time,
            end_time = excluded.end_time, archived_at = excluded.archived_at`,
		task.ID,
		string(task.Kind),
		string(task.Status),
		task.Progress,
		task.CurrentStep,
		task.TotalSteps,
		nullableString(task.Message),
		string(details),
		string(logJSON),
		formatTime(task.StartTime),
		nullableTime(task.EndTime),
		formatTime(time.Now()),
	)
}

// Get returns the archived task with id.
func (s *Store) Get(ctx context.Context, id string) (tasks.Task, bool, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, false, nil
	}
	if err != nil {
		return tasks.Task{}, false, fmt.Errorf("get task: %w", err)
	}
	return task, true, nil
}

// Recent returns up to limit archived tasks, most recently finished first.
func (s *Store) Recent(ctx context.Context, limit int) ([]tasks.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks ORDER BY end_time DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// Prune deletes tasks that finished before cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM tasks WHERE end_time IS NOT NULL AND end_time < ?`, formatTime(cutoff))
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (tasks.Task, error) {
	var (
		task        tasks.Task
		kind        string
		status      string
		message     sql.NullString
		detailsJSON sql.NullString
		logJSON     sql.NullString
		startRaw    string
		endRaw      sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&kind,
		&status,
		&task.Progress,
		&task.CurrentStep,
		&task.TotalSteps,
		&message,
		&detailsJSON,
		&logJSON,
		&startRaw,
		&endRaw,
	); err != nil {
		return tasks.Task{}, err
	}
	task.Kind = tasks.Kind(kind)
	task.Status = tasks.Status(status)
	task.Message = message.String
	task.Details = map[string]any{}
	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &task.Details); err != nil {
			return tasks.Task{}, fmt.Errorf("decode details: %w", err)
		}
	}
	if logJSON.Valid && logJSON.String != "" {
		if err := json.Unmarshal([]byte(logJSON.String), &task.Log); err != nil {
			return tasks.Task{}, fmt.Errorf("decode log: %w", err)
		}
	}
	task.StartTime = parseTime(startRaw)
	if endRaw.Valid {
		task.EndTime = parseTime(endRaw.String)
	}
	return task, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
