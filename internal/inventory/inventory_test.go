package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.txt"), 10)
	writeFile(t, filepath.Join(dir, "season 1", "ep1.mkv"), 25)
	writeFile(t, PartialPath(filepath.Join(dir, "season 1", "ep2.mkv")), 7)

	inv, err := Scan(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, inv.Len())

	size, ok := inv.Size("season 1/ep1.mkv")
	assert.True(t, ok)
	assert.Equal(t, int64(25), size)
	assert.True(t, inv.Has("a.txt"))
	assert.False(t, inv.Has("season 1/ep2.mkv"))
}

func TestScan_MissingFolder(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))

	var fsErr *FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "scan", fsErr.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScan_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, 1)

	_, err := Scan(context.Background(), file)

	var fsErr *FilesystemError
	assert.ErrorAs(t, err, &fsErr)
}

func TestMissing(t *testing.T) {
	entries := []*remote.Entry{
		{Path: "a.txt", Size: 10},
		{Path: "b.txt", Size: 20},
	}

	missing := Missing(entries, New(Record{Path: "a.txt", Size: 10}), MissingOptions{})
	require.Len(t, missing, 1)
	assert.Equal(t, "b.txt", missing[0].Path)
}

func TestMissing_PreservesOrder(t *testing.T) {
	entries := []*remote.Entry{
		{Path: "z.mkv"}, {Path: "a.mkv"}, {Path: "m.mkv"}, {Path: "b.mkv"},
	}

	missing := Missing(entries, New(Record{Path: "m.mkv"}), MissingOptions{})

	var paths []string
	for _, e := range missing {
		paths = append(paths, e.Path)
	}

	assert.Equal(t, []string{"z.mkv", "a.mkv", "b.mkv"}, paths)
}

func TestMissing_SizeMismatch(t *testing.T) {
	entries := []*remote.Entry{{Path: "a.txt", Size: 10}}
	inv := New(Record{Path: "a.txt", Size: 4})

	assert.Empty(t, Missing(entries, inv, MissingOptions{}))
	assert.Len(t, Missing(entries, inv, MissingOptions{RedownloadSizeMismatch: true}), 1)
}

func TestMissing_AfterAdd(t *testing.T) {
	entries := []*remote.Entry{{Path: "a.txt", Size: 10}, {Path: "b.txt", Size: 20}}
	inv := New()

	assert.Len(t, Missing(entries, inv, MissingOptions{}), 2)

	inv.Add("a.txt", 10)
	inv.Add("b.txt", 20)

	assert.Empty(t, Missing(entries, inv, MissingOptions{}))
}

func TestPartialPath(t *testing.T) {
	p := PartialPath(filepath.Join("data", "show", "ep1.mkv"))

	assert.Equal(t, filepath.Join("data", "show", ".ep1.mkv.mdl-partial"), p)
	assert.True(t, IsPartial(filepath.Base(p)))
	assert.False(t, IsPartial("ep1.mkv"))
	assert.False(t, IsPartial(".hidden"))
}
