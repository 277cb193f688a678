package remote

import (
	"context"
	"io"

	"github.com/italolelis/mega_downloader/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
}

var _ Client = (*InstrumentedClient)(nil)

// NewInstrumentedClient creates a new instrumented remote client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

func (c *InstrumentedClient) Name() string {
	return c.client.Name()
}

func (c *InstrumentedClient) TransferCap() int64 {
	return c.client.TransferCap()
}

// Login opens a session with telemetry.
func (c *InstrumentedClient) Login(ctx context.Context, link string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.client.Name(), "login", func(ctx context.Context) error {
		return c.client.Login(ctx, link)
	})
}

// Logout closes the session with telemetry.
func (c *InstrumentedClient) Logout(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.client.Name(), "logout", func(ctx context.Context) error {
		return c.client.Logout(ctx)
	})
}

// HasSession checks for a remote session with telemetry.
func (c *InstrumentedClient) HasSession(ctx context.Context) (bool, error) {
	var result bool

	err := c.telemetry.InstrumentClientOperation(ctx, c.client.Name(), "has_session", func(ctx context.Context) error {
		var err error
		result, err = c.client.HasSession(ctx)

		return err
	})

	return result, err
}

// List lists the files under a link with telemetry.
func (c *InstrumentedClient) List(ctx context.Context, link string) ([]*Entry, error) {
	var result []*Entry

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.client.Name(), "list", func(ctx context.Context) error {
		var err error
		result, err = c.client.List(ctx, link)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Fetch streams a file range with telemetry.
func (c *InstrumentedClient) Fetch(ctx context.Context, entry *Entry, rng ByteRange, w io.Writer) (int64, error) {
	var written int64

	err := c.telemetry.InstrumentClientOperation(ctx, c.client.Name(), "fetch", func(ctx context.Context) error {
		var err error
		written, err = c.client.Fetch(ctx, entry, rng, w)

		return err
	})

	return written, err
}
