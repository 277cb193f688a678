package megacmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/remote"
)

// exitQuotaExceeded is the status MEGAcmd commands exit with once the transfer quota of
// the current identity is used up.
const exitQuotaExceeded = 11

// Client drives the MEGAcmd command line tools. MEGAcmd keeps a single session in its
// background server, so all commands share it.
type Client struct {
	binDir string
}

var _ remote.Client = (*Client)(nil)

// NewClient creates a client. binDir is where the mega-* executables live, empty to look
// them up in PATH.
func NewClient(binDir string) *Client {
	return &Client{binDir: binDir}
}

func (c *Client) Name() string {
	return "megacmd"
}

// TransferCap is unlimited: mega-cat streams files of any size.
func (c *Client) TransferCap() int64 {
	return 0
}

// Login opens a session on a public folder link.
func (c *Client) Login(ctx context.Context, link string) error {
	if _, err := c.run(ctx, "mega-login", link); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "logged in to public link", "link", link)

	return nil
}

// Logout closes the MEGAcmd session, returning remote.ErrNoSession when none was open.
func (c *Client) Logout(ctx context.Context) error {
	out, err := c.run(ctx, "mega-logout")
	if err != nil {
		if notLoggedIn(out) || notLoggedIn(err.Error()) {
			return remote.ErrNoSession
		}

		return err
	}

	return nil
}

// HasSession reports whether MEGAcmd holds a session, which is the case when mega-ls
// succeeds.
func (c *Client) HasSession(ctx context.Context) (bool, error) {
	_, err := c.run(ctx, "mega-ls")
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}

	return false, err
}

// List lists every file below the current remote folder of the session.
func (c *Client) List(ctx context.Context, link string) ([]*remote.Entry, error) {
	pwd, err := c.run(ctx, "mega-pwd")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote folder: %w", err)
	}

	root := strings.TrimSpace(pwd)

	out, err := c.run(ctx, "mega-ls", "-lr", root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	entries, err := parseListing(out, root)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing of %s: %w", link, err)
	}

	return entries, nil
}

// Fetch streams a file with mega-cat. MEGAcmd has no ranged download, so the bytes
// before the range are discarded and the process is stopped once the range is read.
func (c *Client) Fetch(ctx context.Context, entry *remote.Entry, rng remote.ByteRange, w io.Writer) (int64, error) {
	catCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(catCtx, c.bin("mega-cat"), entry.ID)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: err}
	}

	n, copyErr := copyRange(w, stdout, entry, rng)

	// mega-cat would block on the full pipe otherwise.
	bounded := rng.Length > 0 && n == rng.Length
	if bounded || copyErr != nil {
		cancel()
	}

	waitErr := cmd.Wait()

	switch {
	case copyErr != nil && ctx.Err() != nil:
		return n, ctx.Err()
	case copyErr != nil:
		var te *remote.TransferError
		if errors.As(copyErr, &te) {
			return n, copyErr
		}

		return n, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: copyErr}
	case waitErr == nil:
		return n, nil
	case bounded && ctx.Err() == nil:
		// stopped on purpose after the range was read
		return n, nil
	case ctx.Err() != nil:
		return n, ctx.Err()
	}

	return n, commandError(entry.Path, "mega-cat", waitErr, stderr.String())
}

func copyRange(w io.Writer, r io.Reader, entry *remote.Entry, rng remote.ByteRange) (int64, error) {
	if rng.Offset > 0 {
		skipped, err := io.CopyN(io.Discard, r, rng.Offset)
		if err != nil {
			return 0, fmt.Errorf("failed to skip to offset %d (got %d bytes): %w", rng.Offset, skipped, err)
		}
	}

	if rng.Length == 0 {
		return io.Copy(w, r)
	}

	n, err := io.Copy(w, io.LimitReader(r, rng.Length))
	if err != nil || n < rng.Length || rng.End() < entry.Size {
		return n, err
	}

	// A range reaching the listed end must be followed by EOF, the file grew otherwise.
	if _, err := io.ReadFull(r, make([]byte, 1)); err == nil {
		return n, &remote.TransferError{
			Path: entry.Path,
			Kind: remote.KindSizeMismatch,
			Err:  fmt.Errorf("remote file is larger than the listed %d bytes", entry.Size),
		}
	}

	return n, nil
}

func (c *Client) bin(name string) string {
	if c.binDir == "" {
		return name
	}

	return filepath.Join(c.binDir, name)
}

// run executes a MEGAcmd command and returns its standard output.
func (c *Client) run(ctx context.Context, name string, args ...string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	cmd := exec.CommandContext(ctx, c.bin(name), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.DebugContext(ctx, "running megacmd command", "command", name)

	if err := cmd.Run(); err != nil {
		return stdout.String(), commandError("", name, err, stderr.String()+stdout.String())
	}

	return stdout.String(), nil
}

// commandError classifies a failed command by its exit status and output.
func commandError(path, name string, err error, output string) error {
	output = strings.TrimSpace(output)
	wrapped := fmt.Errorf("%s failed: %w: %s", name, err, output)

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return wrapped
	}

	switch {
	case exitErr.ExitCode() == exitQuotaExceeded:
		return &remote.TransferError{Path: path, Kind: remote.KindQuotaExceeded, Err: wrapped}
	case notLoggedIn(output):
		return &remote.TransferError{Path: path, Kind: remote.KindSessionLost, Err: wrapped}
	default:
		return wrapped
	}
}

func notLoggedIn(output string) bool {
	return strings.Contains(strings.ToLower(output), "not logged in")
}
