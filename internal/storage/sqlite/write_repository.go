package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/mega_downloader/internal/storage"
)

// JournalWriteRepository implements storage.JournalWriteRepository
// and stores run records in SQLite.
type JournalWriteRepository struct {
	db *sql.DB
}

func NewJournalWriteRepository(db *sql.DB) *JournalWriteRepository {
	return &JournalWriteRepository{db: db}
}

func (r *JournalWriteRepository) StartRun(ctx context.Context, run storage.Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, instance_id, links, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.InstanceID, strings.Join(run.Links, "\n"), storage.RunRunning, run.StartedAt.UTC().Format(time.RFC3339),
	)

	return err
}

// FinishRun sets the final status of a run.
func (r *JournalWriteRepository) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt.UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	return nil
}

func (r *JournalWriteRepository) RecordTask(ctx context.Context, rec storage.TaskRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (run_id, link, path, size, state, failure_kind, attempts, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Link, rec.Path, rec.Size, rec.State, rec.FailureKind, rec.Attempts, rec.FinishedAt.UTC().Format(time.RFC3339),
	)

	return err
}

func (r *JournalWriteRepository) RecordRotation(ctx context.Context, rec storage.RotationRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rotations (run_id, router, previous_identity, identity, duration_ms, error, rotated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Router, rec.PreviousIdentity, rec.Identity, rec.Duration.Milliseconds(), rec.Err, rec.RotatedAt.UTC().Format(time.RFC3339),
	)

	return err
}
