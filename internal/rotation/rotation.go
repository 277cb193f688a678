package rotation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Router changes the network identity observed by the remote service.
type Router interface {
	Name() string
	Reconnect(ctx context.Context) error
}

// IdentityProbe reports the public identity (usually the external IP address) currently
// seen from outside.
type IdentityProbe interface {
	PublicIdentity(ctx context.Context) (string, error)
}

// RotationError represents a failed or unconfirmed identity rotation.
type RotationError struct {
	Router string
	Reason string
	Err    error
}

func (e *RotationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity rotation via %s failed: %s: %v", e.Router, e.Reason, e.Err)
	}

	return fmt.Sprintf("identity rotation via %s failed: %s", e.Router, e.Reason)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// Result describes a confirmed rotation.
type Result struct {
	Router           string
	PreviousIdentity string
	Identity         string
	Duration         time.Duration
}

type Options struct {
	// Timeout bounds a whole rotation, from reconnect to confirmation.
	Timeout time.Duration
	// SettleDelay is waited after reconnecting before connectivity is polled.
	SettleDelay time.Duration
	// PollInterval is the pause between connectivity checks.
	PollInterval time.Duration
	// ConnectivityURL is requested to decide whether the network is back.
	ConnectivityURL string
	HTTPClient      *http.Client
}

// Rotator rotates the network identity through a Router and confirms the result.
type Rotator struct {
	router    Router
	probe     IdentityProbe
	opts      Options
	telemetry *telemetry.Telemetry
}

// NewRotator creates a rotator. probe may be nil, in which case a rotation is confirmed
// as soon as connectivity is back.
func NewRotator(router Router, probe IdentityProbe, opts Options, tel *telemetry.Telemetry) *Rotator {
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(5 * time.Second)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}

	return &Rotator{router: router, probe: probe, opts: opts, telemetry: tel}
}

func (r *Rotator) Router() Router {
	return r.router
}

// Rotate reconnects through the router and blocks until the network is reachable again
// and, when the previous identity is known, the identity has changed.
func (r *Rotator) Rotate(ctx context.Context) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("router", r.router.Name())

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := &Result{Router: r.router.Name()}

	err := r.telemetry.InstrumentRotation(ctx, r.router.Name(), func(ctx context.Context) error {
		if r.probe != nil {
			prev, err := r.probe.PublicIdentity(ctx)
			if err != nil {
				logger.WarnContext(ctx, "could not read current identity", "err", err)
			}

			result.PreviousIdentity = prev
		}

		logger.InfoContext(ctx, "rotating network identity", "identity", result.PreviousIdentity)

		if err := r.router.Reconnect(ctx); err != nil {
			return &RotationError{Router: r.router.Name(), Reason: "reconnect failed", Err: err}
		}

		if err := sleep(ctx, r.opts.SettleDelay); err != nil {
			return &RotationError{Router: r.router.Name(), Reason: "interrupted while settling", Err: err}
		}

		identity, err := r.awaitIdentity(ctx, result.PreviousIdentity)
		if err != nil {
			return &RotationError{Router: r.router.Name(), Reason: "new identity not confirmed", Err: err}
		}

		result.Identity = identity

		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)

	logger.InfoContext(ctx, "network identity rotated",
		"previous_identity", result.PreviousIdentity,
		"identity", result.Identity,
		"duration", result.Duration,
	)

	return result, nil
}

func (r *Rotator) awaitIdentity(ctx context.Context, previous string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		if r.reachable(ctx) {
			if r.probe == nil {
				return "", nil
			}

			identity, err := r.probe.PublicIdentity(ctx)

			switch {
			case err != nil:
				logger.DebugContext(ctx, "identity probe failed", "err", err)
			case previous == "" || identity != previous:
				return identity, nil
			default:
				logger.DebugContext(ctx, "identity unchanged, waiting", "identity", identity)
			}
		} else {
			logger.DebugContext(ctx, "waiting for network connectivity")
		}

		if err := sleep(ctx, r.opts.PollInterval); err != nil {
			return "", err
		}
	}
}

func (r *Rotator) reachable(ctx context.Context) bool {
	if r.opts.ConnectivityURL == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.ConnectivityURL, nil)
	if err != nil {
		return false
	}

	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	// Routers and captive pages answer with errors while the WAN is still dialling.
	return resp.StatusCode < http.StatusBadRequest
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
