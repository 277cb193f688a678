package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := &DiscordNotifier{WebhookURL: server.URL}

	require.NoError(t, n.Notify(context.Background(), "run finished: 2 completed"))
	assert.Equal(t, "run finished: 2 completed", got["content"])
}

func TestDiscordNotifier_TruncatesLongContent(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	n := &DiscordNotifier{WebhookURL: server.URL, HTTPClient: server.Client()}

	require.NoError(t, n.Notify(context.Background(), strings.Repeat("é", 3000)))
	assert.Equal(t, discordContentLimit, utf8.RuneCountInString(got["content"]))
}

func TestDiscordNotifier_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := (&DiscordNotifier{WebhookURL: server.URL}).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "status 429")

	err = (&DiscordNotifier{}).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "webhook URL is not set")
}
