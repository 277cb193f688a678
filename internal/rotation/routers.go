package rotation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/italolelis/mega_downloader/internal/logctx"
)

// NoopRouter does not change anything. It is used when the identity is rotated outside
// this process.
type NoopRouter struct{}

func (NoopRouter) Name() string {
	return "none"
}

func (NoopRouter) Reconnect(ctx context.Context) error {
	logctx.LoggerFromContext(ctx).WarnContext(ctx, "quota threshold reached but no router is configured, continuing with the same identity")

	return nil
}

// CommandRouter runs an external program that reconnects the router, for example a
// vendor script. A non-zero exit status is a failed reconnect.
type CommandRouter struct {
	Command string
}

func (r *CommandRouter) Name() string {
	return "command"
}

func (r *CommandRouter) Reconnect(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("command", r.Command)

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reconnect command failed: %w: %s", err, strings.TrimSpace(out.String()))
	}

	logger.DebugContext(ctx, "reconnect command finished", "output", strings.TrimSpace(out.String()))

	return nil
}

// HTTPProbe reads the public identity from an echo service returning the caller's
// address as plain text.
type HTTPProbe struct {
	URL        string
	HTTPClient *http.Client
}

func (p *HTTPProbe) PublicIdentity(ctx context.Context) (string, error) {
	client := p.HTTPClient
	if client == nil {
		client = newHTTPClient(10 * time.Second)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create identity request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}

	identity := strings.TrimSpace(string(body))
	if identity == "" {
		return "", errors.New("identity service returned an empty body")
	}

	return identity, nil
}
