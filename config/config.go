package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPrefix is prepended to every variable name when no LoadOptions are given.
const DefaultPrefix = "BEAVER_"

// ErrRequired is returned when a field tagged `required` has no value.
var ErrRequired = errors.New("required configuration value missing")

// LoadOptions defines options for loading configuration from environment variables.
type LoadOptions struct {
	Prefix string   // Prefix to prepend to environment variable names
	Files  []string // .env files to load before reading the environment (default: ".env")
	Debug  bool     // Print every resolved variable to stdout
}

type fieldTag struct {
	name         string
	defaultValue string
	hasDefault   bool
	required     bool
}

// Load populates a struct from .env files and environment variables.
//
// Fields are mapped with an `env` tag:
//   - `env:"VAR_NAME"`: read PREFIX+VAR_NAME
//   - `env:"VAR_NAME,default:value"`: fallback when the variable is unset
//   - `env:"VAR_NAME,required"`: fail with ErrRequired when unset and no default
//
// Values already present in the process environment win over .env files.
// Missing .env files are ignored.
//
// Example:
//
//	type Config struct {
//	    APIKey  string        `env:"API_KEY,required"`
//	    Timeout time.Duration `env:"TIMEOUT,default:30s"`
//	}
//
//	var cfg Config
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
func Load(cfg interface{}, opts ...LoadOptions) error {
	options := LoadOptions{Prefix: DefaultPrefix}
	if len(opts) > 0 {
		options = opts[0]
	}

	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", cfg)
	}

	loadDotenv(options.Files)

	v := rv.Elem()
	t := v.Type()
	printDebug := options.Debug || os.Getenv("BEAVER_CONFIG_DEBUG") == "true"

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		raw := field.Tag.Get("env")
		if raw == "" || !field.IsExported() {
			continue
		}

		tag := parseTag(raw)
		fullName := options.Prefix + tag.name
		value, set := os.LookupEnv(fullName)
		if !set || value == "" {
			value = tag.defaultValue
		}
		if printDebug {
			fmt.Printf("[BEAVER] %s=%s\n", fullName, redact(fullName, value))
		}

		if value == "" {
			if tag.required && !tag.hasDefault {
				return fmt.Errorf("%w: %s", ErrRequired, fullName)
			}
			continue
		}
		if err := setFieldValue(v.Field(i), value); err != nil {
			return fmt.Errorf("config: %s: %w", fullName, err)
		}
	}

	return nil
}

func loadDotenv(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
}

// parseTag splits `NAME,default:x,required`. Unknown options are ignored.
func parseTag(raw string) fieldTag {
	parts := strings.Split(raw, ",")
	tag := fieldTag{name: parts[0]}
	for i := 1; i < len(parts); i++ {
		part := parts[i]
		switch {
		case strings.HasPrefix(part, "default:"):
			// Defaults may themselves contain commas ("openid,profile").
			rest := []string{strings.TrimPrefix(part, "default:")}
			for i+1 < len(parts) && !isOption(parts[i+1]) {
				i++
				rest = append(rest, parts[i])
			}
			tag.defaultValue = strings.Join(rest, ",")
			tag.hasDefault = true
		case part == "required":
			tag.required = true
		}
	}
	return tag
}

func isOption(s string) bool {
	return s == "required" || strings.HasPrefix(s, "default:") || strings.Contains(s, ":")
}

func redact(name, value string) string {
	upper := strings.ToUpper(name)
	if value != "" && (strings.Contains(upper, "SECRET") || strings.Contains(upper, "PASSWORD") || strings.Contains(upper, "KEY")) {
		return "****"
	}
	return value
}

// setFieldValue converts value to the field's type.
//
// Supported: string, int kinds, bool, float64, time.Duration and []string
// (comma separated, blanks trimmed). Unsupported kinds are skipped silently.
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return nil
	}
	return nil
}
