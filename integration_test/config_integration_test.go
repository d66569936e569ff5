package integration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobeaver/beaver-social/cache"
	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/database"
	"github.com/gobeaver/beaver-social/logger"
	"github.com/gobeaver/beaver-social/notify"
	"github.com/gobeaver/beaver-social/oauth"
	"github.com/gobeaver/beaver-social/vault"
	"github.com/gobeaver/beaver-social/web"
)

// TestDefaultPrefix checks that every package reads its BEAVER_ variables.
func TestDefaultPrefix(t *testing.T) {
	t.Setenv("BEAVER_DB_DRIVER", "sqlite")
	t.Setenv("BEAVER_DB_DATABASE", "test.db")
	t.Setenv("BEAVER_CACHE_DRIVER", "memory")
	t.Setenv("BEAVER_SLACK_USERNAME", "TestBot")
	t.Setenv("BEAVER_NATS_SUBJECT", "social")
	t.Setenv("BEAVER_LOG_LEVEL", "warn")
	t.Setenv("BEAVER_WEB_ABSOLUTE_PATH", "https://app.example.com/oauth")
	t.Setenv("BEAVER_WEB_COOKIE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("BEAVER_OAUTH_PROVIDERS", "twitter, github")
	t.Setenv("BEAVER_OAUTH_TWITTER_API_KEY", "tk")
	t.Setenv("BEAVER_OAUTH_TWITTER_API_SECRET", "ts")
	t.Setenv("BEAVER_OAUTH_GITHUB_API_KEY", "gk")
	t.Setenv("BEAVER_OAUTH_GITHUB_API_SECRET", "gs")
	t.Setenv("BEAVER_OAUTH_GITHUB_SCOPE", "repo,user")

	dbCfg, err := database.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load database config: %v", err)
	}
	if dbCfg.Driver != "sqlite" || dbCfg.Database != "test.db" {
		t.Errorf("database config = %s %s", dbCfg.Driver, dbCfg.Database)
	}

	cacheCfg, err := cache.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load cache config: %v", err)
	}
	if cacheCfg.Driver != "memory" {
		t.Errorf("Expected cache driver 'memory', got '%s'", cacheCfg.Driver)
	}

	slackCfg, err := notify.GetSlackConfig()
	if err != nil {
		t.Fatalf("Failed to load slack config: %v", err)
	}
	if slackCfg.Username != "TestBot" {
		t.Errorf("Expected username 'TestBot', got '%s'", slackCfg.Username)
	}

	natsCfg, err := notify.GetNATSConfig()
	if err != nil {
		t.Fatalf("Failed to load nats config: %v", err)
	}
	if natsCfg.Subject != "social" {
		t.Errorf("Expected subject 'social', got '%s'", natsCfg.Subject)
	}

	logCfg, err := logger.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load logger config: %v", err)
	}
	if logCfg.Level != "warn" {
		t.Errorf("Expected level 'warn', got '%s'", logCfg.Level)
	}

	webCfg, err := web.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load web config: %v", err)
	}
	if got := webCfg.CallbackURL("github"); got != "https://app.example.com/oauth/github/callback" {
		t.Errorf("CallbackURL() = %s", got)
	}

	settings, err := oauth.LoadHubSettings()
	if err != nil {
		t.Fatalf("LoadHubSettings() error = %v", err)
	}
	if len(settings) != 2 || settings[0].ProviderName != "twitter" || settings[1].ProviderName != "github" {
		t.Fatalf("settings = %+v", settings)
	}
	if scopes := settings[1].Scopes(); len(scopes) != 2 || scopes[0] != "repo" {
		t.Errorf("github scopes = %v", scopes)
	}
	settings = webCfg.WithCallbacks(settings)
	if settings[0].Callback != "https://app.example.com/oauth/twitter/callback" {
		t.Errorf("twitter callback = %s", settings[0].Callback)
	}
}

// TestCustomPrefix tests the WithPrefix builders and LoadOptions.Prefix.
func TestCustomPrefix(t *testing.T) {
	t.Setenv("STAGING_DB_DRIVER", "postgres")
	t.Setenv("STAGING_DB_HOST", "staging-db.example.com")
	t.Setenv("PROD_CACHE_DRIVER", "redis")
	t.Setenv("PROD_CACHE_HOST", "prod-redis.example.com")
	t.Setenv("DEV_SLACK_USERNAME", "DevBot")

	dbCfg, err := database.GetConfig(config.LoadOptions{Prefix: "STAGING_"})
	if err != nil {
		t.Fatalf("Failed to load staging database config: %v", err)
	}
	if dbCfg.Driver != "postgres" {
		t.Errorf("Expected driver 'postgres', got '%s'", dbCfg.Driver)
	}
	if dbCfg.Host != "staging-db.example.com" {
		t.Errorf("Expected host 'staging-db.example.com', got '%s'", dbCfg.Host)
	}

	cacheCfg, err := cache.GetConfig(config.LoadOptions{Prefix: "PROD_"})
	if err != nil {
		t.Fatalf("Failed to load prod cache config: %v", err)
	}
	if cacheCfg.Driver != "redis" || cacheCfg.Host != "prod-redis.example.com" {
		t.Errorf("prod cache config = %s %s", cacheCfg.Driver, cacheCfg.Host)
	}

	slackCfg, err := notify.GetSlackConfig(config.LoadOptions{Prefix: "DEV_SLACK_"})
	if err != nil {
		t.Fatalf("Failed to load dev slack config: %v", err)
	}
	if slackCfg.Username != "DevBot" {
		t.Errorf("Expected username 'DevBot', got '%s'", slackCfg.Username)
	}
}

// TestEmptyPrefix tests using no prefix at all.
func TestEmptyPrefix(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_HOST", "mysql.internal")
	t.Setenv("CACHE_DRIVER", "redis")

	dbCfg, err := database.GetConfig(config.LoadOptions{Prefix: ""})
	if err != nil {
		t.Fatalf("Failed to load database config with empty prefix: %v", err)
	}
	if dbCfg.Driver != "mysql" || dbCfg.Host != "mysql.internal" {
		t.Errorf("database config = %s %s", dbCfg.Driver, dbCfg.Host)
	}

	cacheCfg, err := cache.GetConfig(config.LoadOptions{Prefix: ""})
	if err != nil {
		t.Fatalf("Failed to load cache config with empty prefix: %v", err)
	}
	if cacheCfg.Driver != "redis" {
		t.Errorf("Expected cache driver 'redis', got '%s'", cacheCfg.Driver)
	}
}

// TestDefaultValues tests that defaults apply when only the driver is set.
func TestDefaultValues(t *testing.T) {
	t.Setenv("BEAVER_DB_DRIVER", "sqlite")

	dbCfg, err := database.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load database config: %v", err)
	}
	if dbCfg.Host != "localhost" {
		t.Errorf("Expected default host 'localhost', got '%s'", dbCfg.Host)
	}
	if dbCfg.Database != "social.db" {
		t.Errorf("Expected default database 'social.db', got '%s'", dbCfg.Database)
	}
	if dbCfg.MaxOpenConns != 25 {
		t.Errorf("Expected default max open conns 25, got %d", dbCfg.MaxOpenConns)
	}

	natsCfg, err := notify.GetNATSConfig(config.LoadOptions{Prefix: "UNSET_NATS_"})
	if err != nil {
		t.Fatalf("Failed to load nats config: %v", err)
	}
	if natsCfg.URL != "nats://localhost:4222" || natsCfg.ReconnectWait != 2*time.Second {
		t.Errorf("nats defaults = %s %s", natsCfg.URL, natsCfg.ReconnectWait)
	}

	if _, err := web.GetConfig(config.LoadOptions{Prefix: "UNSET_WEB_"}); err == nil {
		t.Error("web config without absolute path should fail")
	}
}

// TestStackFromEnvironment opens the vault and session store the way
// socialctl does and runs a credential through them.
func TestStackFromEnvironment(t *testing.T) {
	ctx := context.Background()
	t.Setenv("APP_DB_DRIVER", "sqlite")
	t.Setenv("APP_DB_DATABASE", filepath.Join(t.TempDir(), "social.db"))
	t.Setenv("APP_VAULT_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("APP_CACHE_DRIVER", "memory")

	v, db, err := vault.Open(ctx, "APP_")
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("PingContext() error = %v", err)
	}

	store, err := cache.WithPrefix("APP_").New()
	if err != nil {
		t.Fatalf("cache New() error = %v", err)
	}
	defer store.Close()

	resolver := oauth.NewStoreResolver(store)
	sess, err := resolver.Resolve(ctx, "alice", "github")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sess.Identity() != "alice" {
		t.Errorf("Identity() = %s", sess.Identity())
	}

	if err := v.Store(ctx, "alice", "github", oauth.Credential{Token: "tok", Secret: "sec"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	cred, ok, err := v.Load(ctx, "alice", "github")
	if err != nil || !ok || cred.Token != "tok" || cred.Secret != "sec" {
		t.Errorf("Load() = %+v %v %v", cred, ok, err)
	}
}
