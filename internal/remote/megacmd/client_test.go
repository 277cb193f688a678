package megacmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleListing = `/Shows:
FLAGS VERS    SIZE  DATE      NAME
d---    -          - 12Jan2023 10:00:00 Season 1
-ep-    1       1024 12Jan2023 10:00:00 trailer.mp4

/Shows/Season 1:
FLAGS VERS    SIZE  DATE      NAME
-ep-    1    5242880 12Jan2023 10:00:00 ep 01.mkv
`

func TestParseListing(t *testing.T) {
	entries, err := parseListing(sampleListing, "/Shows")
	require.NoError(t, err)

	assert.Equal(t, []*remote.Entry{
		{ID: "/Shows/trailer.mp4", Path: "trailer.mp4", Size: 1024},
		{ID: "/Shows/Season 1/ep 01.mkv", Path: "Season 1/ep 01.mkv", Size: 5242880},
	}, entries)
}

func TestParseListing_RootFolder(t *testing.T) {
	out := "FLAGS VERS    SIZE  DATE      NAME\r\n-ep-    1         10 12Jan2023 10:00:00 a.txt\r\n"

	entries, err := parseListing(out, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Path)
	assert.Equal(t, "/a.txt", entries[0].ID)
}

func TestParseListing_InvalidSize(t *testing.T) {
	_, err := parseListing("-ep-    1    big 12Jan2023 10:00:00 a.txt\n", "/")
	assert.Error(t, err)
}

// fakeMegaCmd installs shell scripts standing in for the MEGAcmd executables.
func fakeMegaCmd(t *testing.T, scripts map[string]string) *Client {
	t.Helper()

	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}

	return NewClient(dir)
}

func TestClient_List(t *testing.T) {
	listing := filepath.Join(t.TempDir(), "listing")
	require.NoError(t, os.WriteFile(listing, []byte(sampleListing), 0o644))

	client := fakeMegaCmd(t, map[string]string{
		"mega-pwd": `echo /Shows`,
		"mega-ls":  `[ "$1" = "-lr" ] && [ "$2" = "/Shows" ] && cat ` + listing,
	})

	entries, err := client.List(context.Background(), "https://mega.nz/folder/abc#key")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Season 1/ep 01.mkv", entries[1].Path)
}

func TestClient_HasSession(t *testing.T) {
	logged := fakeMegaCmd(t, map[string]string{"mega-ls": `exit 0`})
	ok, err := logged.HasSession(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	notLogged := fakeMegaCmd(t, map[string]string{"mega-ls": `echo "[err: Not logged in]" >&2; exit 57`})
	ok, err = notLogged.HasSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	missing := NewClient(t.TempDir())
	_, err = missing.HasSession(context.Background())
	assert.Error(t, err)
}

func TestClient_LoginLogout(t *testing.T) {
	client := fakeMegaCmd(t, map[string]string{
		"mega-login":  `[ "$1" = "https://mega.nz/folder/ok" ] || { echo "Invalid link" >&2; exit 9; }`,
		"mega-logout": `echo "Not logged in." >&2; exit 57`,
	})

	require.NoError(t, client.Login(context.Background(), "https://mega.nz/folder/ok"))

	err := client.Login(context.Background(), "https://mega.nz/folder/bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid link")

	assert.ErrorIs(t, client.Logout(context.Background()), remote.ErrNoSession)
}

func TestClient_Fetch(t *testing.T) {
	client := fakeMegaCmd(t, map[string]string{
		"mega-cat": `[ "$1" = "/Shows/a.txt" ] && printf 0123456789`,
	})
	entry := &remote.Entry{ID: "/Shows/a.txt", Path: "a.txt", Size: 10}

	var whole bytes.Buffer
	n, err := client.Fetch(context.Background(), entry, remote.Whole(10), &whole)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "0123456789", whole.String())

	var part bytes.Buffer
	n, err = client.Fetch(context.Background(), entry, remote.ByteRange{Offset: 3, Length: 4}, &part)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "3456", part.String())
}

func TestClient_FetchDetectsGrownFile(t *testing.T) {
	client := fakeMegaCmd(t, map[string]string{
		"mega-cat": `printf 0123456789abc`,
	})
	entry := &remote.Entry{ID: "/Shows/a.txt", Path: "a.txt", Size: 10}

	var whole bytes.Buffer
	_, err := client.Fetch(context.Background(), entry, remote.Whole(10), &whole)
	assert.Equal(t, remote.KindSizeMismatch, remote.KindOf(err))

	var tail bytes.Buffer
	_, err = client.Fetch(context.Background(), entry, remote.ByteRange{Offset: 6, Length: 4}, &tail)
	assert.Equal(t, remote.KindSizeMismatch, remote.KindOf(err))

	var head bytes.Buffer
	n, err := client.Fetch(context.Background(), entry, remote.ByteRange{Offset: 0, Length: 6}, &head)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestClient_FetchQuotaExceeded(t *testing.T) {
	client := fakeMegaCmd(t, map[string]string{
		"mega-cat": `echo "Transfer quota exceeded" >&2; exit 11`,
	})

	_, err := client.Fetch(context.Background(), &remote.Entry{ID: "/a", Path: "a", Size: 1}, remote.Whole(1), &bytes.Buffer{})

	assert.Equal(t, remote.KindQuotaExceeded, remote.KindOf(err))
}

func TestClient_FetchSessionLost(t *testing.T) {
	client := fakeMegaCmd(t, map[string]string{
		"mega-cat": `echo "[API:err] Not logged in" >&2; exit 57`,
	})

	_, err := client.Fetch(context.Background(), &remote.Entry{ID: "/a", Path: "a", Size: 1}, remote.Whole(1), &bytes.Buffer{})

	assert.Equal(t, remote.KindSessionLost, remote.KindOf(err))
}
