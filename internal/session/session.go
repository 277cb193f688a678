package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/italolelis/mega_downloader/internal/telemetry"
)

// Manager owns the lifecycle of the single authenticated session against the remote
// service. At most one session is active at any time.
type Manager struct {
	client    remote.Client
	telemetry *telemetry.Telemetry

	mu     sync.Mutex
	active *remote.Session
}

func NewManager(client remote.Client, tel *telemetry.Telemetry) *Manager {
	return &Manager{client: client, telemetry: tel}
}

// Authenticate opens a session for link. It fails without contacting the remote service
// when a session is already active.
func (m *Manager) Authenticate(ctx context.Context, link string) (*remote.Session, error) {
	logger := logctx.LoggerFromContext(ctx).With("link", link, "client", m.client.Name())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Active {
		return nil, &remote.AuthenticationError{
			Operation: "login",
			Reason:    fmt.Sprintf("session %s is already active", m.active.ID),
		}
	}

	if err := m.client.Login(ctx, link); err != nil {
		return nil, &remote.AuthenticationError{Operation: "login", Reason: "login rejected", Err: err}
	}

	sess := &remote.Session{
		ID:        uuid.New().String(),
		Link:      link,
		Active:    true,
		StartedAt: time.Now(),
	}

	m.active = sess
	m.telemetry.SessionOpened()

	logger.InfoContext(ctx, "session opened", "session_id", sess.ID)

	return sess, nil
}

// Terminate logs out of sess. Without force, terminating a nil or inactive session does
// nothing. With force, logout is always attempted and the local state cleared, which is
// safe to repeat.
func (m *Manager) Terminate(ctx context.Context, sess *remote.Session, force bool) error {
	logger := logctx.LoggerFromContext(ctx).With("client", m.client.Name(), "force", force)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !force {
		if sess == nil || !sess.Active {
			return nil
		}

		if m.active == nil || m.active.ID != sess.ID {
			sess.Active = false

			return nil
		}
	}

	err := m.client.Logout(ctx)
	if force && errors.Is(err, remote.ErrNoSession) {
		err = nil
	}

	if m.active != nil {
		m.active.Active = false
		m.active = nil

		m.telemetry.SessionClosed()
	}

	if sess != nil {
		sess.Active = false
	}

	if err != nil {
		return &remote.AuthenticationError{Operation: "logout", Reason: "logout failed", Err: err}
	}

	logger.InfoContext(ctx, "session closed")

	return nil
}

// Active returns the current session, nil when none is open.
func (m *Manager) Active() *remote.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// Probe checks whether the remote side still holds a session from an earlier run. A
// leftover session is closed when forceLogout is set and reported as an error otherwise.
func (m *Manager) Probe(ctx context.Context, forceLogout bool) error {
	logger := logctx.LoggerFromContext(ctx).With("client", m.client.Name())

	ongoing, err := m.client.HasSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for an ongoing session: %w", err)
	}

	if !ongoing {
		return nil
	}

	if !forceLogout {
		return &remote.AuthenticationError{
			Operation: "startup",
			Reason:    "a session is already ongoing, use --force-logout to close it",
		}
	}

	logger.WarnContext(ctx, "closing session left over by a previous run")

	return m.Terminate(ctx, nil, true)
}
