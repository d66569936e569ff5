package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/oauth"
	"go.uber.org/zap"
)

// Slack errors
var (
	ErrWebhookNotConfigured = errors.New("webhook URL not configured")
	ErrRateLimited          = errors.New("slack rate limit exceeded")
	ErrInvalidResponse      = errors.New("invalid response from Slack")
	ErrWebhookFailed        = errors.New("webhook request failed")
	ErrMaxRetriesExceeded   = errors.New("maximum retries exceeded")
)

// SlackConfig defines the Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string        `env:"WEBHOOK_URL"`
	Channel    string        `env:"CHANNEL"`
	Username   string        `env:"USERNAME,default:Beaver"`
	IconEmoji  string        `env:"ICON_EMOJI"`
	IconURL    string        `env:"ICON_URL"`
	Timeout    time.Duration `env:"TIMEOUT,default:10s"`

	// Retry configuration
	MaxRetries    int           `env:"MAX_RETRIES,default:3"`
	RetryDelay    time.Duration `env:"RETRY_DELAY,default:1s"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY,default:30s"`

	// FailuresOnly drops successful exchanges and disconnects.
	FailuresOnly bool `env:"FAILURES_ONLY,default:false"`
}

// GetSlackConfig loads SlackConfig from BEAVER_SLACK_* variables.
func GetSlackConfig(opts ...config.LoadOptions) (*SlackConfig, error) {
	if len(opts) == 0 {
		opts = []config.LoadOptions{{Prefix: "BEAVER_SLACK_"}}
	}
	cfg := &SlackConfig{}
	if err := config.Load(cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Message is the webhook payload.
type Message struct {
	Text      string `json:"text"`
	Channel   string `json:"channel,omitempty"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	IconURL   string `json:"icon_url,omitempty"`
}

// Slack is a Listener posting events to a Slack incoming webhook.
type Slack struct {
	webhookURL    string
	httpClient    *http.Client
	defaults      Message
	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
	failuresOnly  bool
	logger        *zap.Logger
}

// NewSlack validates cfg and returns a listener.
func NewSlack(cfg SlackConfig, logger *zap.Logger) (*Slack, error) {
	if err := validateSlackConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryDelay {
		cfg.RetryMaxDelay = cfg.RetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Slack{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		defaults: Message{
			Channel:   cfg.Channel,
			Username:  cfg.Username,
			IconEmoji: cfg.IconEmoji,
			IconURL:   cfg.IconURL,
		},
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
		failuresOnly:  cfg.FailuresOnly,
		logger:        logger,
	}, nil
}

func validateSlackConfig(cfg SlackConfig) error {
	if cfg.WebhookURL == "" {
		return ErrWebhookNotConfigured
	}
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("webhook URL %q is not an absolute http(s) URL", cfg.WebhookURL)
	}
	if cfg.Channel != "" && !strings.HasPrefix(cfg.Channel, "#") && !strings.HasPrefix(cfg.Channel, "@") {
		return fmt.Errorf("channel %q must start with # or @", cfg.Channel)
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	return nil
}

// Handle implements Listener.
func (s *Slack) Handle(ctx context.Context, e oauth.Event) error {
	if s.failuresOnly && e.Status != oauth.StatusFailure {
		return nil
	}
	_, err := s.Send(ctx, FormatEvent(e))
	return err
}

// FormatEvent renders e as Slack mrkdwn.
func FormatEvent(e oauth.Event) string {
	switch {
	case e.Kind == oauth.EventDisconnect:
		return fmt.Sprintf("ℹ️ `%s` disconnected from *%s*", e.Identity, e.Provider)
	case e.Status == oauth.StatusSuccess:
		return fmt.Sprintf("✅ `%s` connected to *%s*", e.Identity, e.Provider)
	default:
		msg := fmt.Sprintf("❌ *Error*\n`%s` could not connect to *%s*", e.Identity, e.Provider)
		if e.Message != "" {
			msg += fmt.Sprintf("\n```\n%s\n```", e.Message)
		}
		return msg
	}
}

// Send posts text with the configured defaults and returns the response body.
func (s *Slack) Send(ctx context.Context, text string) (string, error) {
	msg := s.defaults
	msg.Text = text

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.sendWithRetry(ctx, payload)
}

// sendWithRetry sends the request with exponential backoff retry
func (s *Slack) sendWithRetry(ctx context.Context, payload []byte) (string, error) {
	var lastErr error
	delay := s.retryDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ctx.Err(), lastErr)
			case <-time.After(delay):
				delay = min(delay*2, s.retryMaxDelay)
			}
			s.logger.Debug("retrying slack webhook",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.maxRetries),
				zap.Error(lastErr))
		}

		resp, err := s.doRequest(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (s *Slack) doRequest(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	bodyStr := string(body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return bodyStr, ErrRateLimited
	case resp.StatusCode >= 500:
		return bodyStr, fmt.Errorf("%w: status=%d", ErrWebhookFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return bodyStr, fmt.Errorf("%w: status=%d, body=%s", ErrInvalidResponse, resp.StatusCode, bodyStr)
	}

	if bodyStr != "ok" && !strings.Contains(bodyStr, `"ok":true`) {
		return bodyStr, fmt.Errorf("%w: %s", ErrInvalidResponse, bodyStr)
	}
	return bodyStr, nil
}

func isRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrWebhookFailed)
}
