package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/mega_downloader/internal/catalog"
	"github.com/italolelis/mega_downloader/internal/cleanup"
	"github.com/italolelis/mega_downloader/internal/downloader"
	"github.com/italolelis/mega_downloader/internal/inventory"
	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/quota"
	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/italolelis/mega_downloader/internal/rotation"
	"github.com/italolelis/mega_downloader/internal/session"
	"github.com/italolelis/mega_downloader/internal/storage"
	"github.com/italolelis/mega_downloader/internal/telemetry"
)

// RetryPolicy bounds the attempts made for every transfer of a run.
type RetryPolicy = downloader.RetryPolicy

type Config struct {
	TargetDir   string
	ForceLogout bool
	Retry       RetryPolicy
	// RotationAttempts is how often a failed rotation is retried before the run aborts.
	RotationAttempts  int
	MaxTransferSize   int64
	IncludeExtensions []string
	Missing           inventory.MissingOptions
}

// Rotator changes the network identity.
type Rotator interface {
	Rotate(ctx context.Context) (*rotation.Result, error)
}

// Orchestrator downloads the missing files of a list of links, one link, one file and
// one session at a time, rotating the network identity whenever the quota is used up.
type Orchestrator struct {
	cfg        Config
	sessions   *session.Manager
	catalog    *catalog.Catalog
	quota      *quota.Tracker
	rotator    Rotator
	supervisor *downloader.Supervisor
	journal    storage.JournalWriteRepository
	telemetry  *telemetry.Telemetry
}

// New creates an orchestrator. journal may be nil.
func New(
	cfg Config,
	client remote.Client,
	rotator Rotator,
	tracker *quota.Tracker,
	journal storage.JournalWriteRepository,
	tel *telemetry.Telemetry,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		sessions:   session.NewManager(client, tel),
		catalog:    catalog.New(client, cfg.IncludeExtensions),
		quota:      tracker,
		rotator:    rotator,
		supervisor: downloader.NewSupervisor(client, tracker, cfg.MaxTransferSize, tel),
		journal:    journal,
		telemetry:  tel,
	}
}

// Run processes links in order. It returns the joined fatal and catalog errors; the
// summary is returned in every case.
func (o *Orchestrator) Run(ctx context.Context, links []string) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString(), StartedAt: time.Now()}

	logger := logctx.LoggerFromContext(ctx).With("run_id", summary.RunID)
	ctx = logctx.WithLogger(ctx, logger)

	logger.InfoContext(ctx, "starting run", "links", len(links), "target_dir", o.cfg.TargetDir)

	o.startRun(ctx, summary, links)

	if n, err := cleanup.RemoveStalePartials(ctx, o.cfg.TargetDir); err != nil {
		logger.WarnContext(ctx, "failed to remove stale partial files", "err", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "removed stale partial files", "count", n)
	}

	var (
		fatal       error
		catalogErrs []error
	)

	if err := o.sessions.Probe(ctx, o.cfg.ForceLogout); err != nil {
		fatal = err
	}

	for _, link := range links {
		if fatal != nil {
			break
		}

		if err := ctx.Err(); err != nil {
			fatal = err

			break
		}

		err := o.telemetry.InstrumentOperation(ctx, "process_link", "orchestrator", func(ctx context.Context) error {
			return o.processLink(ctx, link, summary)
		})

		switch {
		case err == nil:
		case IsFatal(err):
			fatal = err
		default:
			catalogErrs = append(catalogErrs, err)
		}
	}

	if o.cfg.ForceLogout || fatal != nil {
		// Logout also runs when the run was interrupted.
		if err := o.sessions.Terminate(context.WithoutCancel(ctx), o.sessions.Active(), true); err != nil {
			logger.ErrorContext(ctx, "failed to force logout", "err", err)

			fatal = errors.Join(fatal, err)
		}
	}

	summary.FinishedAt = time.Now()
	err := errors.Join(append([]error{fatal}, catalogErrs...)...)

	o.finishRun(ctx, summary, err)

	if err != nil {
		logger.ErrorContext(ctx, "run finished with errors", "summary", summary.String(), "err", err)
	} else {
		logger.InfoContext(ctx, "run finished", "summary", summary.String())
	}

	return summary, err
}

func (o *Orchestrator) processLink(ctx context.Context, link string, summary *Summary) (err error) {
	logger := logctx.LoggerFromContext(ctx).With("link", link)
	ctx = logctx.WithLogger(ctx, logger)

	sess, err := o.sessions.Authenticate(ctx, link)
	if err != nil {
		return err
	}

	defer func() {
		if terr := o.sessions.Terminate(context.WithoutCancel(ctx), sess, false); terr != nil {
			err = errors.Join(err, terr)
		}
	}()

	entries, err := o.catalog.List(ctx, sess, link)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list link, skipping it", "err", err)

		return err
	}

	inv, err := inventory.Scan(ctx, o.cfg.TargetDir)
	if err != nil {
		return err
	}

	queue := inventory.Missing(entries, inv, o.cfg.Missing)
	summary.Skipped += len(entries) - len(queue)

	logger.InfoContext(ctx, "resolved missing files", "listed", len(entries), "missing", len(queue), "present", inv.Len())

	for _, entry := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}

		if o.quota.ShouldRotate() {
			// The session is closed while the identity changes and reopened from the new one.
			if err := o.sessions.Terminate(ctx, sess, false); err != nil {
				return err
			}

			if err := o.rotate(ctx, summary); err != nil {
				return err
			}

			sess, err = o.sessions.Authenticate(ctx, link)
			if err != nil {
				return err
			}
		}

		task := o.supervisor.Transfer(ctx, sess, downloader.NewTask(entry, o.cfg.TargetDir), o.cfg.Retry)
		o.recordTask(ctx, summary.RunID, link, task)

		switch task.State {
		case downloader.StateCompleted:
			inv.Add(entry.Path, entry.Size)

			summary.Completed++
			summary.Bytes += entry.Size
		case downloader.StatePartiallyWritten:
			summary.Interrupted++

			return task.Err
		default:
			summary.Failed = append(summary.Failed, FailedFile{Link: link, Path: entry.Path, Kind: task.FailureKind})

			if task.FailureKind.Fatal() {
				return task.Err
			}

			if task.FailureKind == remote.KindQuotaExceeded {
				logger.WarnContext(ctx, "transfer quota exceeded, rotating before the next file")
				o.quota.ForceRotation()
			}
		}
	}

	return nil
}

// rotate retries the rotation up to RotationAttempts times.
func (o *Orchestrator) rotate(ctx context.Context, summary *Summary) error {
	logger := logctx.LoggerFromContext(ctx)
	attempts := max(o.cfg.RotationAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := o.rotator.Rotate(ctx)
		o.recordRotation(ctx, summary.RunID, result, err)

		if err == nil {
			o.quota.OnRotated()
			summary.Rotations++

			return nil
		}

		lastErr = err

		logger.WarnContext(ctx, "identity rotation failed", "attempt", attempt, "max_attempts", attempts, "err", err)

		if ctx.Err() != nil {
			break
		}
	}

	var re *rotation.RotationError
	if !errors.As(lastErr, &re) {
		lastErr = &rotation.RotationError{Reason: "rotation aborted", Err: lastErr}
	}

	return fmt.Errorf("identity rotation failed after %d attempts: %w", attempts, lastErr)
}

func (o *Orchestrator) startRun(ctx context.Context, summary *Summary, links []string) {
	if o.journal == nil {
		return
	}

	err := o.journal.StartRun(ctx, storage.Run{
		ID:         summary.RunID,
		InstanceID: storage.InstanceID(),
		Links:      links,
		StartedAt:  summary.StartedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal run start", "err", err)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, summary *Summary, runErr error) {
	if o.journal == nil {
		return
	}

	status := storage.RunSucceeded
	if runErr != nil {
		status = storage.RunFailed
	}

	if err := o.journal.FinishRun(context.WithoutCancel(ctx), summary.RunID, status, summary.FinishedAt); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal run end", "err", err)
	}
}

func (o *Orchestrator) recordTask(ctx context.Context, runID, link string, task *downloader.Task) {
	if o.journal == nil {
		return
	}

	err := o.journal.RecordTask(context.WithoutCancel(ctx), storage.TaskRecord{
		RunID:       runID,
		Link:        link,
		Path:        task.Entry.Path,
		Size:        task.Entry.Size,
		State:       string(task.State),
		FailureKind: string(task.FailureKind),
		Attempts:    task.Attempts,
		FinishedAt:  task.FinishedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal task", "file_path", task.Entry.Path, "err", err)
	}
}

func (o *Orchestrator) recordRotation(ctx context.Context, runID string, result *rotation.Result, rotateErr error) {
	if o.journal == nil {
		return
	}

	rec := storage.RotationRecord{RunID: runID, RotatedAt: time.Now()}

	if result != nil {
		rec.Router = result.Router
		rec.PreviousIdentity = result.PreviousIdentity
		rec.Identity = result.Identity
		rec.Duration = result.Duration
	}

	if rotateErr != nil {
		rec.Err = rotateErr.Error()

		var re *rotation.RotationError
		if errors.As(rotateErr, &re) {
			rec.Router = re.Router
		}
	}

	if err := o.journal.RecordRotation(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal rotation", "err", err)
	}
}
