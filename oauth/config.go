package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobeaver/beaver-social/config"
)

// DefaultPrefix is where LoadSettings looks when no prefix is given.
const DefaultPrefix = "BEAVER_OAUTH_"

// Settings is the immutable configuration bound to one provider.
type Settings struct {
	APIKey       string        `env:"API_KEY"`
	APISecret    string        `env:"API_SECRET"`
	Callback     string        `env:"CALLBACK"`
	Scope        string        `env:"SCOPE"` // comma or space separated
	ProviderName string        `env:"PROVIDER"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT,default:30s"`
}

// LoadSettings reads <prefix>API_KEY, <prefix>API_SECRET, <prefix>CALLBACK,
// <prefix>SCOPE, <prefix>PROVIDER and <prefix>HTTP_TIMEOUT.
func LoadSettings(prefix string) (Settings, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	var s Settings
	if err := config.Load(&s, config.LoadOptions{Prefix: prefix}); err != nil {
		return Settings{}, newError(ErrConfiguration, "", "load settings", err)
	}
	return s, s.Validate()
}

// LoadProviderSettings loads settings for a named provider from
// BEAVER_OAUTH_<NAME>_*. The provider name defaults to name.
func LoadProviderSettings(name string) (Settings, error) {
	prefix := DefaultPrefix + strings.ToUpper(name) + "_"

	var s Settings
	if err := config.Load(&s, config.LoadOptions{Prefix: prefix}); err != nil {
		return Settings{}, newError(ErrConfiguration, name, "load settings", err)
	}
	if s.ProviderName == "" {
		s.ProviderName = name
	}
	return s, s.Validate()
}

// Validate checks that key, secret and provider name are present.
func (s Settings) Validate() error {
	var missing []string
	if s.APIKey == "" {
		missing = append(missing, "api key")
	}
	if s.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if s.ProviderName == "" {
		missing = append(missing, "provider name")
	}
	if len(missing) > 0 {
		return &Error{
			Kind:        ErrConfiguration,
			Provider:    s.ProviderName,
			Op:          "validate settings",
			Description: fmt.Sprintf("missing %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Scopes splits Scope on commas and whitespace.
func (s Settings) Scopes() []string {
	return strings.FieldsFunc(s.Scope, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// hubEnv names the providers served by a Hub.
type hubEnv struct {
	Providers []string `env:"PROVIDERS"`
}

// LoadHubSettings reads the provider list from BEAVER_OAUTH_PROVIDERS
// ("twitter,github") and loads each entry with LoadProviderSettings.
func LoadHubSettings() ([]Settings, error) {
	var env hubEnv
	if err := config.Load(&env, config.LoadOptions{Prefix: DefaultPrefix}); err != nil {
		return nil, newError(ErrConfiguration, "", "load providers", err)
	}
	if len(env.Providers) == 0 {
		return nil, &Error{Kind: ErrConfiguration, Op: "load providers",
			Description: DefaultPrefix + "PROVIDERS is empty"}
	}

	out := make([]Settings, 0, len(env.Providers))
	for _, name := range env.Providers {
		s, err := LoadProviderSettings(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
