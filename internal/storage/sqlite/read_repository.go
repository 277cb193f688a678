package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/italolelis/mega_downloader/internal/storage"
)

type JournalReadRepository struct {
	db *sql.DB
}

func NewJournalReadRepository(dbConn *sql.DB) *JournalReadRepository {
	return &JournalReadRepository{db: dbConn}
}

// GetRuns returns the most recent runs first, up to a limit.
func (r *JournalReadRepository) GetRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			id,
			instance_id,
			links,
			status,
			started_at,
			finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.Run

	for rows.Next() {
		var (
			run        storage.Run
			links      string
			startedAt  string
			finishedAt sql.NullString
		)

		if err := rows.Scan(&run.ID, &run.InstanceID, &links, &run.Status, &startedAt, &finishedAt); err != nil {
			return nil, err
		}

		if links != "" {
			run.Links = strings.Split(links, "\n")
		}

		run.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			run.FinishedAt = parseTime(finishedAt.String)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetTasks returns the tasks of a run in the order they finished.
func (r *JournalReadRepository) GetTasks(ctx context.Context, runID string) ([]storage.TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, link, path, size, state, failure_kind, attempts, finished_at
		FROM tasks WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []storage.TaskRecord

	for rows.Next() {
		var (
			rec        storage.TaskRecord
			finishedAt string
		)

		if err := rows.Scan(&rec.RunID, &rec.Link, &rec.Path, &rec.Size, &rec.State, &rec.FailureKind, &rec.Attempts, &finishedAt); err != nil {
			return nil, err
		}

		rec.FinishedAt = parseTime(finishedAt)
		tasks = append(tasks, rec)
	}

	return tasks, rows.Err()
}

// GetRotations returns the rotations of a run in the order they happened.
func (r *JournalReadRepository) GetRotations(ctx context.Context, runID string) ([]storage.RotationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, router, previous_identity, identity, duration_ms, error, rotated_at
		FROM rotations WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rotations []storage.RotationRecord

	for rows.Next() {
		var (
			rec       storage.RotationRecord
			duration  int64
			rotatedAt string
		)

		if err := rows.Scan(&rec.RunID, &rec.Router, &rec.PreviousIdentity, &rec.Identity, &duration, &rec.Err, &rotatedAt); err != nil {
			return nil, err
		}

		rec.Duration = time.Duration(duration) * time.Millisecond
		rec.RotatedAt = parseTime(rotatedAt)
		rotations = append(rotations, rec)
	}

	return rotations, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
