package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one invocation of the downloader.
type Run struct {
	ID         string
	InstanceID string
	Links      []string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// TaskRecord is the outcome of one file transfer.
type TaskRecord struct {
	RunID       string
	Link        string
	Path        string
	Size        int64
	State       string
	FailureKind string
	Attempts    int
	FinishedAt  time.Time
}

// RotationRecord is the outcome of one identity rotation.
type RotationRecord struct {
	RunID            string
	Router           string
	PreviousIdentity string
	Identity         string
	Duration         time.Duration
	Err              string
	RotatedAt        time.Time
}

type JournalReadRepository interface {
	GetRuns(ctx context.Context, limit int) ([]Run, error)
	GetTasks(ctx context.Context, runID string) ([]TaskRecord, error)
	GetRotations(ctx context.Context, runID string) ([]RotationRecord, error)
}

type JournalWriteRepository interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error
	RecordTask(ctx context.Context, rec TaskRecord) error
	RecordRotation(ctx context.Context, rec RotationRecord) error
}

// InstanceID returns a unique string for this process (hostname+pid+random).
func InstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
