package rotation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/italolelis/mega_downloader/internal/logctx"
)

// fritzboxDescriptionPath is where a FRITZ!Box publishes its IGD device description.
const fritzboxDescriptionPath = "/igddesc.xml"

// Fritzbox reconnects an AVM FRITZ!Box through its UPnP IGD interface, which makes the
// provider assign a new public address. It doubles as the identity probe.
type Fritzbox struct {
	BaseURL string

	mu   sync.Mutex
	conn *internetgateway1.WANIPConnection1
}

func NewFritzbox(baseURL string) *Fritzbox {
	return &Fritzbox{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (f *Fritzbox) Name() string {
	return "fritzbox"
}

// Reconnect terminates the WAN connection. The box dials in again on its own.
func (f *Fritzbox) Reconnect(ctx context.Context) error {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "forcing fritzbox wan reconnect", "url", f.BaseURL)

	conn, err := f.connection(ctx)
	if err != nil {
		return err
	}

	if err := conn.ForceTerminationCtx(ctx); err != nil {
		return fmt.Errorf("fritzbox ForceTermination failed: %w", err)
	}

	return nil
}

// PublicIdentity returns the external IPv4 address of the WAN connection.
func (f *Fritzbox) PublicIdentity(ctx context.Context) (string, error) {
	conn, err := f.connection(ctx)
	if err != nil {
		return "", err
	}

	address, err := conn.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return "", fmt.Errorf("fritzbox GetExternalIPAddress failed: %w", err)
	}

	if address == "" {
		return "", fmt.Errorf("fritzbox reported no external address")
	}

	return address, nil
}

// connection discovers the WANIPConnection service once and reuses it afterwards.
func (f *Fritzbox) connection(ctx context.Context) (*internetgateway1.WANIPConnection1, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return f.conn, nil
	}

	loc, err := url.Parse(f.BaseURL + fritzboxDescriptionPath)
	if err != nil {
		return nil, fmt.Errorf("invalid fritzbox url %q: %w", f.BaseURL, err)
	}

	clients, err := internetgateway1.NewWANIPConnection1ClientsByURLCtx(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to read fritzbox device description: %w", err)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("fritzbox exposes no WANIPConnection service")
	}

	f.conn = clients[0]

	return f.conn, nil
}
