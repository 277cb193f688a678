package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mega_downloader/internal/remote"
)

// FailedFile is a file that could not be downloaded in this run.
type FailedFile struct {
	Link string
	Path string
	Kind remote.FailureKind
}

// Summary reports what a run did.
type Summary struct {
	RunID       string
	Completed   int
	Bytes       int64
	Failed      []FailedFile
	Skipped     int
	Interrupted int
	Rotations   int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s finished in %s: %d downloaded (%s), %d already present, %d failed, %d rotations",
		s.RunID,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
		s.Completed,
		humanize.Bytes(uint64(s.Bytes)),
		s.Skipped,
		len(s.Failed),
		s.Rotations,
	)

	if s.Interrupted > 0 {
		fmt.Fprintf(&b, ", %d interrupted", s.Interrupted)
	}

	for _, f := range s.Failed {
		fmt.Fprintf(&b, "\n- %s (%s)", f.Path, f.Kind)
	}

	return b.String()
}

// IsFatal reports whether err aborts a run. Catalog failures and non-fatal transfer
// failures only affect their own link or file; an interrupted transfer stops the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsFatal(e) {
				return true
			}
		}

		return false
	}

	var te *remote.TransferError
	if errors.As(err, &te) {
		return te.Kind.Fatal() || te.Kind == remote.KindCanceled
	}

	var ce *remote.CatalogError

	return !errors.As(err, &ce)
}
