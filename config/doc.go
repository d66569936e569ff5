// Package config loads configuration structs from environment variables and
// .env files.
//
// # Basic Usage
//
// Define a configuration struct with env tags:
//
//	type Config struct {
//	    APIKey      string        `env:"API_KEY,required"`
//	    Callback    string        `env:"CALLBACK"`
//	    HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default:30s"`
//	    Scopes      []string      `env:"SCOPES,default:read,write"`
//	}
//
//	var cfg Config
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "BEAVER_OAUTH_"})
//
// Without LoadOptions the BEAVER_ prefix is used.
//
// # Supported Types
//
//   - string
//   - int, int8, int16, int32, int64
//   - bool ("true", "false", "1", "0", ...)
//   - float32, float64
//   - time.Duration ("1h30m", "45s")
//   - []string (comma separated)
//
// # Environment Files
//
// LoadOptions.Files lists .env files read before the environment (".env" by
// default). Missing files are ignored and variables already set in the
// process environment are never overridden.
//
// # Debug Mode
//
// Set BEAVER_CONFIG_DEBUG=true or LoadOptions.Debug to print every resolved
// variable. Values of variables whose name contains SECRET, PASSWORD or KEY
// are masked.
//
// # Integration
//
// Every package in this module follows the same pattern: a Config struct with
// env tags, GetConfig for loading and a WithPrefix builder for custom prefixes:
//   - oauth: BEAVER_OAUTH_* (oauth.LoadSettings, oauth.LoadHubSettings)
//   - cache: BEAVER_CACHE_*
//   - database: BEAVER_DB_*
//   - vault: BEAVER_VAULT_KEY
//   - logger: BEAVER_LOG_*
//   - notify: BEAVER_SLACK_*, BEAVER_NATS_*
//   - web: BEAVER_WEB_*
package config
