package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobeaver/beaver-social/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlackServer(t *testing.T, handler func(w http.ResponseWriter, msg Message, attempt int32)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg Message
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(w, msg, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func testSlack(t *testing.T, url string, mutate ...func(*SlackConfig)) *Slack {
	t.Helper()
	cfg := SlackConfig{
		WebhookURL:    url,
		Channel:       "#oauth",
		Username:      "Beaver",
		Timeout:       time.Second,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewSlack(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestSlackHandle(t *testing.T) {
	var got Message
	srv, _ := newSlackServer(t, func(w http.ResponseWriter, msg Message, _ int32) {
		got = msg
		_, _ = w.Write([]byte("ok"))
	})

	s := testSlack(t, srv.URL)
	require.NoError(t, s.Handle(context.Background(), testEvent(oauth.StatusSuccess)))

	assert.Equal(t, "#oauth", got.Channel)
	assert.Equal(t, "Beaver", got.Username)
	assert.Contains(t, got.Text, "alice")
	assert.Contains(t, got.Text, "github")
}

func TestSlackFailuresOnly(t *testing.T) {
	srv, attempts := newSlackServer(t, func(w http.ResponseWriter, _ Message, _ int32) {
		_, _ = w.Write([]byte("ok"))
	})
	s := testSlack(t, srv.URL, func(c *SlackConfig) { c.FailuresOnly = true })

	require.NoError(t, s.Handle(context.Background(), testEvent(oauth.StatusSuccess)))
	assert.Zero(t, attempts.Load())

	require.NoError(t, s.Handle(context.Background(), testEvent(oauth.StatusFailure)))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSlackRetries(t *testing.T) {
	srv, attempts := newSlackServer(t, func(w http.ResponseWriter, _ Message, n int32) {
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	resp, err := testSlack(t, srv.URL).Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSlackMaxRetriesExceeded(t *testing.T) {
	srv, attempts := newSlackServer(t, func(w http.ResponseWriter, _ Message, _ int32) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := testSlack(t, srv.URL).Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSlackInvalidResponseNotRetried(t *testing.T) {
	srv, attempts := newSlackServer(t, func(w http.ResponseWriter, _ Message, _ int32) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	})

	_, err := testSlack(t, srv.URL).Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestNewSlackValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SlackConfig
	}{
		{"missing webhook", SlackConfig{}},
		{"relative webhook", SlackConfig{WebhookURL: "/hooks"}},
		{"bad channel", SlackConfig{WebhookURL: "https://hooks.slack.test/x", Channel: "general"}},
		{"negative retries", SlackConfig{WebhookURL: "https://hooks.slack.test/x", MaxRetries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSlack(tt.cfg, nil)
			assert.Error(t, err)
		})
	}

	_, err := NewSlack(SlackConfig{}, nil)
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

func TestGetSlackConfig(t *testing.T) {
	t.Setenv("BEAVER_SLACK_WEBHOOK_URL", "https://hooks.slack.test/T000")
	t.Setenv("BEAVER_SLACK_FAILURES_ONLY", "true")

	cfg, err := GetSlackConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.test/T000", cfg.WebhookURL)
	assert.Equal(t, "Beaver", cfg.Username)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.FailuresOnly)
}

func TestFormatEvent(t *testing.T) {
	failure := testEvent(oauth.StatusFailure)
	failure.Message = "invalid_grant"
	assert.Contains(t, FormatEvent(failure), "invalid_grant")
	assert.Contains(t, FormatEvent(failure), "❌")

	disconnect := testEvent(oauth.StatusSuccess)
	disconnect.Kind = oauth.EventDisconnect
	assert.Contains(t, FormatEvent(disconnect), "disconnected")
}
