package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gifswap/internal/config"
	"gifswap/internal/services"
)

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Store manages job persistence backed by SQLite.
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the jobs database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "jobs.db"))
}

// OpenPath opens the jobs database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
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

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const jobColumns = `id, status, strategy, gif_path, face_path, output_path, blend_strength,
	error_message, progress_stage, progress_percent, frames_total, frames_done, faces_found,
	created_at, updated_at`

// CreateJob inserts job as a new pending row, assigning an ID when unset.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.execWithRetry(ctx, `
		INSERT INTO jobs (id, status, strategy, gif_path, face_path, blend_strength, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Strategy, job.GifPath, job.FacePath,
		job.BlendStrength, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get job",
			fmt.Sprintf("job %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists the mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job required")
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs SET status = ?, strategy = ?, gif_path = ?, face_path = ?,
			output_path = ?, blend_strength = ?, error_message = ?, progress_stage = ?,
			progress_percent = ?, frames_total = ?, frames_done = ?, faces_found = ?,
			updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Strategy, job.GifPath, job.FacePath,
		job.OutputPath, job.BlendStrength, job.ErrorMessage, job.ProgressStage,
		job.ProgressPercent, job.FramesTotal, job.FramesDone, job.FacesFound,
		job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update job",
			fmt.Sprintf("job %s not found", job.ID), nil)
	}
	return nil
}

// SetProgress updates only the progress fields of a job.
func (s *Store) SetProgress(ctx context.Context, id, stage string, percent float64, framesDone, framesTotal int) error {
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs SET progress_stage = ?, progress_percent = ?, frames_done = ?,
			frames_total = ?, updated_at = ?
		WHERE id = ?`,
		stage, percent, framesDone, framesTotal, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// NextPending claims the oldest pending job by flipping it to
// detecting_source. Returns nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)

	var claimed *Job
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(StatusPending))
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		job.Status = StatusDetectingSource
		job.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(job.Status), job.UpdatedAt, job.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}
	return claimed, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status Status, limit int) ([]*Job, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FailProcessing marks every in-flight job failed with the given reason.
// Called on daemon shutdown so restarts do not resume half-finished work.
func (s *Store) FailProcessing(ctx context.Context, reason string) (int64, error) {
	placeholders := make([]string, 0, len(processingStatuses))
	args := []any{reason, time.Now().UTC()}
	for status := range processingStatuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	res, err := s.execWithRetry(ctx, fmt.Sprintf(`
		UPDATE jobs SET status = '%s', error_message = ?, updated_at = ?
		WHERE status IN (%s)`, StatusFailed, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return 0, fmt.Errorf("fail processing jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCompleted removes completed and failed jobs older than maxAge.
func (s *Store) DeleteCompleted(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.execWithRetry(ctx, `
		DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		string(StatusCompleted), string(StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// Health returns aggregated job counts.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	summary := HealthSummary{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return summary, fmt.Errorf("queue health: %w", err)
		}
		summary.Total += count
		status := Status(raw)
		switch {
		case status == StatusPending:
			summary.Pending += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case status.IsProcessing():
			summary.Processing += count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var status string
	err := row.Scan(
		&job.ID, &status, &job.Strategy, &job.GifPath, &job.FacePath,
		&job.OutputPath, &job.BlendStrength, &job.ErrorMessage, &job.ProgressStage,
		&job.ProgressPercent, &job.FramesTotal, &job.FramesDone, &job.FacesFound,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	return job, nil
}
