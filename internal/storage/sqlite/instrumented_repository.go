package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/mega_downloader/internal/storage"
	"github.com/italolelis/mega_downloader/internal/telemetry"
)

// InstrumentedJournalRepository wraps the journal repositories with telemetry.
type InstrumentedJournalRepository struct {
	read      *JournalReadRepository
	write     *JournalWriteRepository
	telemetry *telemetry.Telemetry
}

var (
	_ storage.JournalReadRepository  = (*InstrumentedJournalRepository)(nil)
	_ storage.JournalWriteRepository = (*InstrumentedJournalRepository)(nil)
)

// NewInstrumentedJournalRepository creates a new instrumented journal repository.
func NewInstrumentedJournalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJournalRepository {
	return &InstrumentedJournalRepository{
		read:      NewJournalReadRepository(dbConn),
		write:     NewJournalWriteRepository(dbConn),
		telemetry: tel,
	}
}

// StartRun inserts a run with telemetry.
func (r *InstrumentedJournalRepository) StartRun(ctx context.Context, run storage.Run) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_run", func(ctx context.Context) error {
		return r.write.StartRun(ctx, run)
	})
}

// FinishRun updates the run status with telemetry.
func (r *InstrumentedJournalRepository) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_run", func(ctx context.Context) error {
		return r.write.FinishRun(ctx, runID, status, finishedAt)
	})
}

// RecordTask inserts a task outcome with telemetry.
func (r *InstrumentedJournalRepository) RecordTask(ctx context.Context, rec storage.TaskRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_task", func(ctx context.Context) error {
		return r.write.RecordTask(ctx, rec)
	})
}

// RecordRotation inserts a rotation outcome with telemetry.
func (r *InstrumentedJournalRepository) RecordRotation(ctx context.Context, rec storage.RotationRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_rotation", func(ctx context.Context) error {
		return r.write.RecordRotation(ctx, rec)
	})
}

// GetRuns retrieves recent runs with telemetry.
func (r *InstrumentedJournalRepository) GetRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	var result []storage.Run

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_runs", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetRuns(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetTasks retrieves the tasks of a run with telemetry.
func (r *InstrumentedJournalRepository) GetTasks(ctx context.Context, runID string) ([]storage.TaskRecord, error) {
	var result []storage.TaskRecord

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_tasks", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetTasks(ctx, runID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetRotations retrieves the rotations of a run with telemetry.
func (r *InstrumentedJournalRepository) GetRotations(ctx context.Context, runID string) ([]storage.RotationRecord, error) {
	var result []storage.RotationRecord

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_rotations", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetRotations(ctx, runID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
