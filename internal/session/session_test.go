package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	loginErr  error
	logoutErr error
	ongoing   bool

	logins  int
	logouts int
}

func (c *fakeClient) Name() string       { return "fake" }
func (c *fakeClient) TransferCap() int64 { return 0 }

func (c *fakeClient) Login(context.Context, string) error {
	c.logins++

	return c.loginErr
}

func (c *fakeClient) Logout(context.Context) error {
	c.logouts++

	return c.logoutErr
}

func (c *fakeClient) HasSession(context.Context) (bool, error) {
	return c.ongoing, nil
}

func (c *fakeClient) List(context.Context, string) ([]*remote.Entry, error) {
	return nil, nil
}

func (c *fakeClient) Fetch(context.Context, *remote.Entry, remote.ByteRange, io.Writer) (int64, error) {
	return 0, nil
}

func TestAuthenticate_SingleActiveSession(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, nil)

	sess, err := m.Authenticate(context.Background(), "link-a")
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, sess, m.Active())

	_, err = m.Authenticate(context.Background(), "link-b")

	var authErr *remote.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "login", authErr.Operation)
	assert.Equal(t, 1, client.logins)

	require.NoError(t, m.Terminate(context.Background(), sess, false))
	assert.False(t, sess.Active)
	assert.Nil(t, m.Active())

	_, err = m.Authenticate(context.Background(), "link-b")
	require.NoError(t, err)
	assert.Equal(t, 2, client.logins)
}

func TestAuthenticate_InjectedActiveSessionIsRefused(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, nil)
	m.active = &remote.Session{ID: "stale", Active: true}

	_, err := m.Authenticate(context.Background(), "link")

	var authErr *remote.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 0, client.logins)
}

func TestAuthenticate_Rejected(t *testing.T) {
	cause := errors.New("invalid link")
	m := NewManager(&fakeClient{loginErr: cause}, nil)

	_, err := m.Authenticate(context.Background(), "link")

	var authErr *remote.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, m.Active())
}

func TestTerminate_NonForcedInactiveIsNoop(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, nil)

	require.NoError(t, m.Terminate(context.Background(), nil, false))
	require.NoError(t, m.Terminate(context.Background(), &remote.Session{}, false))
	assert.Equal(t, 0, client.logouts)
}

func TestTerminate_ForcedIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, nil)

	sess, err := m.Authenticate(context.Background(), "link")
	require.NoError(t, err)

	require.NoError(t, m.Terminate(context.Background(), sess, true))

	client.logoutErr = remote.ErrNoSession
	require.NoError(t, m.Terminate(context.Background(), nil, true))

	assert.Equal(t, 2, client.logouts)
	assert.Nil(t, m.Active())
}

func TestTerminate_LogoutFailureClearsState(t *testing.T) {
	client := &fakeClient{logoutErr: errors.New("network down")}
	m := NewManager(client, nil)

	sess, err := m.Authenticate(context.Background(), "link")
	require.NoError(t, err)

	err = m.Terminate(context.Background(), sess, false)

	var authErr *remote.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "logout", authErr.Operation)
	assert.Nil(t, m.Active())
}

func TestProbe(t *testing.T) {
	t.Run("no leftover session", func(t *testing.T) {
		client := &fakeClient{}
		require.NoError(t, NewManager(client, nil).Probe(context.Background(), false))
		assert.Equal(t, 0, client.logouts)
	})

	t.Run("leftover session without force", func(t *testing.T) {
		client := &fakeClient{ongoing: true}

		err := NewManager(client, nil).Probe(context.Background(), false)

		var authErr *remote.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "startup", authErr.Operation)
		assert.Equal(t, 0, client.logouts)
	})

	t.Run("leftover session with force", func(t *testing.T) {
		client := &fakeClient{ongoing: true}

		require.NoError(t, NewManager(client, nil).Probe(context.Background(), true))
		assert.Equal(t, 1, client.logouts)
	})
}
