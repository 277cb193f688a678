package downloader

import (
	"path/filepath"
	"time"

	"github.com/italolelis/mega_downloader/internal/remote"
)

type State string

const (
	StatePending          State = "pending"
	StateInProgress       State = "in_progress"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StatePartiallyWritten State = "partially_written"
)

// Terminal reports whether no further transition is possible within this run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StatePartiallyWritten:
		return true
	default:
		return false
	}
}

// RetryPolicy bounds the attempts made for one file or segment.
type RetryPolicy struct {
	MaxAttempts           int
	MaxDurationPerAttempt time.Duration
	// StallTimeout aborts an attempt when no byte arrives for this long. Zero disables it.
	StallTimeout time.Duration
}

// Task is one file to download into the target folder. Its state is changed only by the
// Supervisor.
type Task struct {
	Entry      *remote.Entry
	TargetPath string

	State       State
	FailureKind remote.FailureKind
	Attempts    int
	Segments    int
	// Written counts the bytes of segments that were received in full.
	Written    int64
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewTask creates a pending task writing entry below targetDir.
func NewTask(entry *remote.Entry, targetDir string) *Task {
	return &Task{
		Entry:      entry,
		TargetPath: filepath.Join(targetDir, filepath.FromSlash(entry.Path)),
		State:      StatePending,
	}
}

func (t *Task) fail(kind remote.FailureKind, err error) {
	t.State = StateFailed
	t.FailureKind = kind
	t.Err = err
}
