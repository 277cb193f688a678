package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	tel.RecordQuota(10)
	tel.RecordRotation("fritzbox", "success", time.Second)
	tel.SessionOpened()
	tel.SessionClosed()

	calls := 0
	err = tel.InstrumentClientOperation(context.Background(), "megacmd", "list", func(ctx context.Context) error {
		calls++

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	cause := errors.New("boom")
	err := tel.InstrumentRotation(context.Background(), "command", func(ctx context.Context) error {
		return cause
	})
	assert.ErrorIs(t, err, cause)

	var status string
	tel.InstrumentTransfer(context.Background(), func(ctx context.Context) (string, int64) {
		status = "completed"

		return status, 1
	})
	assert.Equal(t, "completed", status)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := newStatusRecorder(rec)

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK)
	_, _ = sr.Write([]byte("abc"))

	assert.Equal(t, http.StatusTeapot, sr.status)
	assert.Equal(t, int64(3), sr.bytesWritten)
	assert.Equal(t, "4xx", statusClass(sr.status))
}
