package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/italolelis/mega_downloader/internal/inventory"
	"github.com/italolelis/mega_downloader/internal/logctx"
)

// RemoveStalePartials deletes the partial files that interrupted transfers left below dir
// and returns how many were removed. A missing dir has nothing to clean.
func RemoveStalePartials(ctx context.Context, dir string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	removed := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return fs.SkipAll
			}

			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() || !inventory.IsPartial(d.Name()) {
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "failed to delete stale partial file", "file", path, "err", err)

			return &inventory.FilesystemError{Path: path, Op: "remove", Err: err}
		}

		logger.InfoContext(ctx, "deleted stale partial file", "file", path)

		removed++

		return nil
	})
	if err != nil {
		return removed, err
	}

	return removed, nil
}
