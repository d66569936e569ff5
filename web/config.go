package web

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/oauth"
)

// Config defines the HTTP layer configuration.
type Config struct {
	// AbsolutePath is the public URL the routes are mounted at, for example
	// https://app.example.com/oauth. Callback URLs are built from it.
	AbsolutePath string `env:"ABSOLUTE_PATH,required"`
	// SuccessPath is where the browser goes after a completed callback.
	SuccessPath string `env:"SUCCESS_PATH,default:/"`

	CookieName   string        `env:"COOKIE_NAME,default:beaver_identity"`
	CookieSecret string        `env:"COOKIE_SECRET,required"`
	CookieTTL    time.Duration `env:"COOKIE_TTL,default:720h"`
	Secure       bool          `env:"SECURE,default:true"`

	// Security headers
	SecurityHeaders bool     `env:"SECURITY_HEADERS,default:true"`
	HSTSMaxAge      int      `env:"HSTS_MAX_AGE,default:31536000"`
	TrustedProxies  []string `env:"TRUSTED_PROXIES"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default:30s"`
	Version        string        `env:"VERSION"`
}

// GetConfig loads Config from BEAVER_WEB_* variables.
func GetConfig(opts ...config.LoadOptions) (*Config, error) {
	if len(opts) == 0 {
		opts = []config.LoadOptions{{Prefix: "BEAVER_WEB_"}}
	}
	cfg := &Config{}
	if err := config.Load(cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	u, err := url.Parse(cfg.AbsolutePath)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("absolute path %q is not an absolute http(s) URL", cfg.AbsolutePath)
	}
	if len(cfg.CookieSecret) < 32 {
		return errors.New("cookie secret must be at least 32 bytes")
	}
	if cfg.CookieName == "" {
		return errors.New("cookie name is required")
	}
	return nil
}

// CallbackURL returns the absolute callback URL of provider.
func (c Config) CallbackURL(provider string) string {
	return strings.TrimRight(c.AbsolutePath, "/") + "/" + url.PathEscape(provider) + "/callback"
}

// WithCallbacks returns a copy of settings where every empty Callback is set
// to CallbackURL.
func (c Config) WithCallbacks(settings []oauth.Settings) []oauth.Settings {
	out := make([]oauth.Settings, len(settings))
	for i, s := range settings {
		if s.Callback == "" {
			s.Callback = c.CallbackURL(s.ProviderName)
		}
		out[i] = s
	}
	return out
}

func (c Config) successPath() string {
	if c.SuccessPath == "" {
		return "/"
	}
	return c.SuccessPath
}
