package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mega_downloader/internal/downloader/progress"
	"github.com/italolelis/mega_downloader/internal/inventory"
	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/italolelis/mega_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	progressInterval = int64(100 * 1024 * 1024) // 100MB
)

var errStalled = errors.New("no progress within the stall timeout")

// QuotaRecorder receives the size of every completed file.
type QuotaRecorder interface {
	Record(n int64)
}

// Supervisor executes transfers one at a time and owns every state change of a Task.
type Supervisor struct {
	client          remote.Client
	quota           QuotaRecorder
	maxTransferSize int64
	telemetry       *telemetry.Telemetry
}

// NewSupervisor creates a supervisor. maxTransferSize caps the bytes requested in one
// fetch, 0 leaving it to the client's own cap.
func NewSupervisor(client remote.Client, quota QuotaRecorder, maxTransferSize int64, tel *telemetry.Telemetry) *Supervisor {
	return &Supervisor{
		client:          client,
		quota:           quota,
		maxTransferSize: maxTransferSize,
		telemetry:       tel,
	}
}

// Transfer downloads task.Entry into task.TargetPath and returns the task in a terminal
// state. The target file only appears once it is complete and its size verified.
func (s *Supervisor) Transfer(ctx context.Context, sess *remote.Session, task *Task, policy RetryPolicy) *Task {
	if task.State != StatePending {
		return task
	}

	logger := logctx.LoggerFromContext(ctx).With("file_path", task.Entry.Path)
	ctx = logctx.WithLogger(ctx, logger)

	task.StartedAt = time.Now()

	s.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) (string, int64) {
		if sess == nil || !sess.Active {
			task.fail(remote.KindSessionLost, &remote.TransferError{
				Path: task.Entry.Path, Kind: remote.KindSessionLost, Err: remote.ErrNoSession,
			})

			return string(task.State), 0
		}

		task.State = StateInProgress
		s.run(ctx, task, policy)

		if task.State == StateCompleted {
			return string(task.State), task.Entry.Size
		}

		return string(task.State), 0
	})

	task.FinishedAt = time.Now()

	switch task.State {
	case StateCompleted:
		logger.InfoContext(ctx, "downloaded and saved file",
			"target", task.TargetPath,
			"file_size", humanize.Bytes(uint64(task.Entry.Size)),
			"attempts", task.Attempts,
			"duration", task.FinishedAt.Sub(task.StartedAt),
		)
	case StatePartiallyWritten:
		logger.WarnContext(ctx, "transfer interrupted", "attempts", task.Attempts, "err", task.Err)
	default:
		logger.ErrorContext(ctx, "failed to download file",
			"failure_kind", task.FailureKind,
			"attempts", task.Attempts,
			"err", task.Err,
		)
	}

	return task
}

func (s *Supervisor) run(ctx context.Context, task *Task, policy RetryPolicy) {
	logger := logctx.LoggerFromContext(ctx)
	entry := task.Entry
	partial := inventory.PartialPath(task.TargetPath)

	if err := os.MkdirAll(filepath.Dir(task.TargetPath), dirPerm); err != nil {
		task.fail(remote.KindFilesystem, &inventory.FilesystemError{Path: filepath.Dir(task.TargetPath), Op: "mkdir", Err: err})

		return
	}

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_RDWR|os.O_TRUNC, filePerm)
	if err != nil {
		task.fail(remote.KindFilesystem, &inventory.FilesystemError{Path: partial, Op: "create", Err: err})

		return
	}

	// Sparse preallocation so every segment can be written at its own offset.
	if err := f.Truncate(entry.Size); err != nil {
		f.Close()
		_ = os.Remove(partial)
		task.fail(remote.KindFilesystem, &inventory.FilesystemError{Path: partial, Op: "truncate", Err: err})

		return
	}

	segments := PlanSegments(entry.Size, segmentLimit(s.maxTransferSize, s.client.TransferCap()))
	task.Segments = len(segments)

	logger.InfoContext(ctx, "downloading file",
		"file_size", humanize.Bytes(uint64(entry.Size)),
		"segments", len(segments),
	)

	for i, seg := range segments {
		if err := s.fetchSegment(ctx, f, task, seg, policy); err != nil {
			f.Close()

			kind := remote.KindOf(err)
			if kind == remote.KindCanceled {
				task.State = StatePartiallyWritten
				task.FailureKind = kind
				task.Err = err

				return
			}

			_ = os.Remove(partial)
			task.fail(kind, fmt.Errorf("segment %d/%d (%s): %w", i+1, len(segments), seg, err))

			return
		}
	}

	if err := s.finalize(f, partial, task); err != nil {
		_ = os.Remove(partial)
		task.fail(remote.KindOf(err), err)

		return
	}

	s.quota.Record(entry.Size)
	task.State = StateCompleted
}

// fetchSegment retries one range until it is written in full or the policy is exhausted.
// Every attempt rewrites the range from its first byte.
func (s *Supervisor) fetchSegment(ctx context.Context, f *os.File, task *Task, seg remote.ByteRange, policy RetryPolicy) error {
	logger := logctx.LoggerFromContext(ctx).With("range", seg.String())

	attempts := max(policy.MaxAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &remote.TransferError{Path: task.Entry.Path, Kind: remote.KindCanceled, Err: err}
		}

		task.Attempts++

		n, err := s.attempt(ctx, f, task.Entry, seg, policy)
		if err == nil {
			s.telemetry.RecordTransferAttempt("success")
			task.Written += n

			return nil
		}

		kind := remote.KindOf(err)
		s.telemetry.RecordTransferAttempt(string(kind))

		logger.WarnContext(ctx, "transfer attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"failure_kind", kind,
			"err", err,
		)

		lastErr = err

		if !kind.Retryable() {
			return err
		}
	}

	return lastErr
}

// attempt fetches seg once, bounded by the per-attempt deadline and the stall watchdog.
// It returns the segment length once every byte of it was written.
func (s *Supervisor) attempt(ctx context.Context, f *os.File, entry *remote.Entry, seg remote.ByteRange, policy RetryPolicy) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	attemptCtx := ctx
	if policy.MaxDurationPerAttempt > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, policy.MaxDurationPerAttempt)
		defer cancel()
	}

	expected := seg.Length
	if expected == 0 {
		expected = entry.Size - seg.Offset
	}

	pw := progress.NewWriter(&fileWriter{path: entry.Path, w: io.NewOffsetWriter(f, seg.Offset)}, expected, progressInterval,
		func(written int64, total int64) {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(max(total, 1)), 2))
		})

	g, gctx := errgroup.WithContext(attemptCtx)
	done := make(chan struct{})

	var written int64

	g.Go(func() error {
		defer close(done)

		n, err := s.client.Fetch(gctx, entry, seg, pw)
		written = n

		return err
	})

	if policy.StallTimeout > 0 {
		g.Go(func() error {
			return watchStall(gctx, done, pw, policy.StallTimeout)
		})
	}

	err := g.Wait()

	switch {
	case errors.Is(err, errStalled):
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindStall, Err: err}
	case err != nil && ctx.Err() != nil:
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindCanceled, Err: ctx.Err()}
	case err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return 0, &remote.TransferError{
			Path: entry.Path,
			Kind: remote.KindTimeout,
			Err:  fmt.Errorf("attempt exceeded %s: %w", policy.MaxDurationPerAttempt, err),
		}
	case err != nil:
		return 0, err
	}

	if written != expected || pw.Written() != expected {
		return 0, &remote.TransferError{
			Path: entry.Path,
			Kind: remote.KindSizeMismatch,
			Err:  fmt.Errorf("received %d bytes, expected %d", pw.Written(), expected),
		}
	}

	return expected, nil
}

// watchStall returns errStalled once nothing was written for timeout, or nil when the
// fetch finished.
func watchStall(ctx context.Context, done <-chan struct{}, pw *progress.Writer, timeout time.Duration) error {
	ticker := time.NewTicker(max(timeout/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if pw.Stalled(timeout) {
				return errStalled
			}
		}
	}
}

// finalize flushes the partial file and renames it into place once the bytes received
// across all segments add up to the listed size. The file itself is preallocated, so its
// length says nothing about what arrived.
func (s *Supervisor) finalize(f *os.File, partial string, task *Task) error {
	if err := f.Sync(); err != nil {
		f.Close()

		return &remote.TransferError{Path: task.Entry.Path, Kind: remote.KindFilesystem, Err: err}
	}

	if err := f.Close(); err != nil {
		return &remote.TransferError{Path: task.Entry.Path, Kind: remote.KindFilesystem, Err: err}
	}

	if task.Written != task.Entry.Size {
		return &remote.TransferError{
			Path: task.Entry.Path,
			Kind: remote.KindSizeMismatch,
			Err:  fmt.Errorf("received %d bytes, expected %d", task.Written, task.Entry.Size),
		}
	}

	if err := os.Rename(partial, task.TargetPath); err != nil {
		return &remote.TransferError{Path: task.Entry.Path, Kind: remote.KindFilesystem, Err: err}
	}

	return nil
}

// fileWriter marks local write failures so they are not mistaken for transport errors.
type fileWriter struct {
	path string
	w    io.Writer
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, &remote.TransferError{Path: fw.path, Kind: remote.KindFilesystem, Err: err}
	}

	return n, nil
}
