package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/oauth"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when the NATS connection is down.
var ErrNotConnected = errors.New("not connected to NATS")

// NATSConfig defines the NATS publisher configuration.
type NATSConfig struct {
	URL           string        `env:"URL,default:nats://localhost:4222"`
	Name          string        `env:"NAME,default:beaver-social"`
	Subject       string        `env:"SUBJECT,default:oauth"`
	MaxReconnects int           `env:"MAX_RECONNECTS,default:10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT,default:2s"`
	Timeout       time.Duration `env:"TIMEOUT,default:5s"`
}

// GetNATSConfig loads NATSConfig from BEAVER_NATS_* variables.
func GetNATSConfig(opts ...config.LoadOptions) (*NATSConfig, error) {
	if len(opts) == 0 {
		opts = []config.LoadOptions{{Prefix: "BEAVER_NATS_"}}
	}
	cfg := &NATSConfig{}
	if err := config.Load(cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NATSPublisher publishes events as JSON on <subject>.<provider>.<status>,
// for example "oauth.github.success".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *zap.Logger
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := NewNATSPublisherFromConn(conn, cfg.Subject, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisherFromConn publishes on an existing connection. Close does
// not close conn.
func NewNATSPublisherFromConn(conn *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if subject == "" {
		subject = "oauth"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject e is published on.
func (p *NATSPublisher) Subject(e oauth.Event) string {
	return p.subject + "." + subjectToken(e.Provider) + "." + subjectToken(strings.ToLower(string(e.Status)))
}

// Handle publishes e and reports failures.
func (p *NATSPublisher) Handle(ctx context.Context, e oauth.Event) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Publish implements oauth.Publisher. Failures are logged.
func (p *NATSPublisher) Publish(ctx context.Context, e oauth.Event) {
	if err := p.Handle(ctx, e); err != nil {
		p.logger.Warn("event not published",
			zap.String("event_id", e.ID),
			zap.String("subject", p.Subject(e)),
			zap.Error(err))
	}
}

// Ping flushes the connection and waits for the server round trip.
func (p *NATSPublisher) Ping(ctx context.Context) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return ErrNotConnected
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.owned && p.conn != nil {
		return p.conn.Drain()
	}
	return nil
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
