package catalog

import (
	"context"
	"path"
	"strings"

	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/remote"
)

// Catalog resolves a public link into the list of files it contains.
type Catalog struct {
	client     remote.Client
	extensions map[string]struct{}
}

// New creates a catalog. When extensions is not empty only files with one of those
// extensions (case-insensitive, with or without the leading dot) are listed.
func New(client remote.Client, extensions []string) *Catalog {
	c := &Catalog{client: client}

	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		if c.extensions == nil {
			c.extensions = make(map[string]struct{})
		}

		c.extensions[ext] = struct{}{}
	}

	return c
}

// List returns the files under link in remote order. The session must be active.
func (c *Catalog) List(ctx context.Context, sess *remote.Session, link string) ([]*remote.Entry, error) {
	logger := logctx.LoggerFromContext(ctx).With("link", link)

	if sess == nil || !sess.Active {
		return nil, &remote.CatalogError{Link: link, Reason: "no active session", Err: remote.ErrNoSession}
	}

	entries, err := c.client.List(ctx, link)
	if err != nil {
		return nil, &remote.CatalogError{Link: link, Reason: "failed to list files", Err: err}
	}

	result := make([]*remote.Entry, 0, len(entries))

	for _, e := range entries {
		clean, ok := cleanPath(e.Path)
		if !ok {
			return nil, &remote.CatalogError{Link: link, Reason: "invalid file path in listing: " + e.Path}
		}

		if e.Size < 0 {
			return nil, &remote.CatalogError{Link: link, Reason: "negative size for " + e.Path}
		}

		if !c.included(clean) {
			continue
		}

		result = append(result, &remote.Entry{ID: e.ID, Path: clean, Size: e.Size})
	}

	logger.InfoContext(ctx, "listed remote files", "files", len(result), "filtered", len(entries)-len(result))

	return result, nil
}

func (c *Catalog) included(p string) bool {
	if len(c.extensions) == 0 {
		return true
	}

	_, ok := c.extensions[strings.ToLower(path.Ext(p))]

	return ok
}

// cleanPath normalizes a listed path and rejects those that would escape the target folder.
func cleanPath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}

	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", false
		}
	}

	clean := path.Clean(p)
	if clean == "." {
		return "", false
	}

	return clean, true
}
