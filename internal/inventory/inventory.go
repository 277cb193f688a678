package inventory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/italolelis/mega_downloader/internal/logctx"
)

const partialSuffix = ".mdl-partial"

// FilesystemError represents a local folder that cannot be read or written.
type FilesystemError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Record is a file already present in the target folder.
type Record struct {
	Path string
	Size int64
}

// Inventory is the set of files present locally, keyed by slash-separated path relative
// to the target folder.
type Inventory struct {
	mu    sync.RWMutex
	files map[string]int64
}

func New(records ...Record) *Inventory {
	inv := &Inventory{files: make(map[string]int64, len(records))}
	for _, r := range records {
		inv.files[r.Path] = r.Size
	}

	return inv
}

// Scan walks dir recursively and records every regular file in it. Partial files left by
// interrupted transfers are not part of the inventory.
func Scan(ctx context.Context, dir string) (*Inventory, error) {
	logger := logctx.LoggerFromContext(ctx).With("target_dir", dir)

	info, err := os.Stat(dir)
	if err != nil {
		return nil, &FilesystemError{Path: dir, Op: "scan", Err: err}
	}

	if !info.IsDir() {
		return nil, &FilesystemError{Path: dir, Op: "scan", Err: errors.New("not a directory")}
	}

	inv := New()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !d.Type().IsRegular() || IsPartial(d.Name()) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		inv.files[filepath.ToSlash(rel)] = fi.Size()

		return nil
	})
	if err != nil {
		return nil, &FilesystemError{Path: dir, Op: "scan", Err: err}
	}

	logger.DebugContext(ctx, "scanned local inventory", "files", inv.Len())

	return inv, nil
}

// Add records a completed file.
func (inv *Inventory) Add(path string, size int64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.files[path] = size
}

func (inv *Inventory) Has(path string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	_, ok := inv.files[path]

	return ok
}

// Size returns the recorded size of path and whether it is present.
func (inv *Inventory) Size(path string) (int64, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	size, ok := inv.files[path]

	return size, ok
}

func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	return len(inv.files)
}

// IsPartial reports whether a base name is a partial file written by the downloader.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, partialSuffix)
}

// PartialPath returns the name a file is written under until it is complete.
func PartialPath(target string) string {
	dir, name := filepath.Split(target)

	return filepath.Join(dir, "."+name+partialSuffix)
}
