package putio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Client downloads folders of a put.io account. Links are put.io file or folder URLs
// (https://app.put.io/files/<id>) or bare ids. The API is token based, so there is no
// server side session to open or close.
type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client
}

var _ remote.Client = (*Client)(nil)

func NewClient(token string) *Client {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	// The oauth2 client builds on the instrumented client found in the context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})

	return &Client{
		putioClient: putio.NewClient(oauth2.NewClient(ctx, tokenSource)),
		httpClient:  httpClient,
	}
}

func (c *Client) Name() string {
	return "putio"
}

func (c *Client) TransferCap() int64 {
	return 0
}

// Login checks the token and that the link points to an accessible file or folder.
func (c *Client) Login(ctx context.Context, link string) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	id, err := parseLink(link)
	if err != nil {
		return err
	}

	if _, err := c.putioClient.Files.Get(ctx, id); err != nil {
		return fmt.Errorf("failed to get file %d: %w", id, err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

func (c *Client) Logout(context.Context) error {
	return nil
}

func (c *Client) HasSession(context.Context) (bool, error) {
	return false, nil
}

// List returns every file below the link, with paths relative to the linked folder. A
// file link yields the file itself.
func (c *Client) List(ctx context.Context, link string) ([]*remote.Entry, error) {
	id, err := parseLink(link)
	if err != nil {
		return nil, err
	}

	root, err := c.putioClient.Files.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	if !root.IsDir() {
		return []*remote.Entry{{ID: strconv.FormatInt(root.ID, 10), Path: root.Name, Size: root.Size}}, nil
	}

	return c.getFilesRecursively(ctx, root.ID, "")
}

func (c *Client) getFilesRecursively(ctx context.Context, parentID int64, basePath string) ([]*remote.Entry, error) {
	files, _, err := c.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %d: %w", parentID, err)
	}

	var result []*remote.Entry

	for _, f := range files {
		p := path.Join(basePath, f.Name)

		if f.IsDir() {
			nested, err := c.getFilesRecursively(ctx, f.ID, p)
			if err != nil {
				return nil, err
			}

			result = append(result, nested...)

			continue
		}

		result = append(result, &remote.Entry{ID: strconv.FormatInt(f.ID, 10), Path: p, Size: f.Size})
	}

	return result, nil
}

// Fetch downloads rng of the file with an HTTP range request.
func (c *Client) Fetch(ctx context.Context, entry *remote.Entry, rng remote.ByteRange, w io.Writer) (int64, error) {
	id, err := strconv.ParseInt(entry.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file id %q: %w", entry.ID, err)
	}

	downloadURL, err := c.putioClient.Files.URL(ctx, id, false)
	if err != nil {
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: fmt.Errorf("failed to get file download url: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, err
	}

	ranged := !rng.IsWhole(entry.Size)
	if ranged {
		req.Header.Set("Range", rng.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: err}
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if ranged && rng.Offset > 0 {
			// range ignored by the server
			if _, err := io.CopyN(io.Discard, body, rng.Offset); err != nil {
				return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: err}
			}
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindUnauthorized, Err: statusError(resp)}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindSizeMismatch, Err: statusError(resp)}
	default:
		return 0, &remote.TransferError{Path: entry.Path, Kind: remote.KindTransport, Err: statusError(resp)}
	}

	if rng.Length > 0 {
		body = io.LimitReader(body, rng.Length)
	}

	return io.Copy(w, body)
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return fmt.Errorf("download failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// parseLink extracts the file id from a put.io link or a bare id.
func parseLink(link string) (int64, error) {
	candidate := link

	if u, err := url.Parse(link); err == nil && u.Host != "" {
		candidate = path.Base(strings.TrimSuffix(u.Path, "/"))
	}

	id, err := strconv.ParseInt(candidate, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid put.io link %q", link)
	}

	return id, nil
}
