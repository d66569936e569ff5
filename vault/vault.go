// Package vault stores OAuth access credentials in a SQL database so
// connected accounts survive session expiry and process restarts.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/database"
	"github.com/gobeaver/beaver-social/krypto"
	"github.com/gobeaver/beaver-social/oauth"
)

// Credential is one stored access token. Token, Secret and RefreshToken
// are sealed when the vault has a key.
type Credential struct {
	ID           uint   `gorm:"primaryKey"`
	Identity     string `gorm:"size:191;not null;uniqueIndex:idx_credential_owner"`
	Provider     string `gorm:"size:64;not null;uniqueIndex:idx_credential_owner"`
	Token        string `gorm:"type:text;not null"`
	Secret       string `gorm:"type:text"`
	TokenType    string `gorm:"size:32"`
	RefreshToken string `gorm:"type:text"`
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Credential) TableName() string {
	return "oauth_credentials"
}

// GormVault implements oauth.Vault on GORM.
type GormVault struct {
	db     *gorm.DB
	sealer krypto.Sealer
}

var _ oauth.Vault = (*GormVault)(nil)

// Option configures a GormVault.
type Option func(*GormVault)

// WithSealer encrypts token and secret at rest.
func WithSealer(s krypto.Sealer) Option {
	return func(v *GormVault) { v.sealer = s }
}

// New migrates the credential table and returns the vault.
func New(ctx context.Context, db *gorm.DB, opts ...Option) (*GormVault, error) {
	if db == nil {
		return nil, errors.New("vault: gorm handle is required")
	}
	v := &GormVault{db: db}
	for _, opt := range opts {
		opt(v)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("vault: migrate: %w", err)
	}
	return v, nil
}

// Config selects the database and the sealing key.
type Config struct {
	// Key derives the AES key sealing stored credentials. Empty stores
	// them in clear text.
	Key string `env:"VAULT_KEY"`
}

// Open connects the database configured under prefix (BEAVER_DB_*) and
// returns a vault on it, sealed with <prefix>VAULT_KEY when set. The
// caller closes the returned database.
func Open(ctx context.Context, prefix string) (*GormVault, *database.Database, error) {
	if prefix == "" {
		prefix = config.DefaultPrefix
	}

	var cfg Config
	if err := config.Load(&cfg, config.LoadOptions{Prefix: prefix}); err != nil {
		return nil, nil, err
	}

	var opts []Option
	if cfg.Key != "" {
		sealer, err := krypto.NewSealer([]byte(cfg.Key), "beaver-social/vault")
		if err != nil {
			return nil, nil, fmt.Errorf("vault: %w", err)
		}
		opts = append(opts, WithSealer(sealer))
	}

	db, err := database.WithPrefix(prefix).Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	v, err := New(ctx, db.GORM(), opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return v, db, nil
}

func (v *GormVault) Load(ctx context.Context, identity, provider string) (oauth.Credential, bool, error) {
	var c Credential
	err := v.db.WithContext(ctx).
		Where("identity = ? AND provider = ?", identity, provider).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return oauth.Credential{}, false, nil
	}
	if err != nil {
		return oauth.Credential{}, false, fmt.Errorf("vault: load %s/%s: %w", identity, provider, err)
	}

	out := oauth.Credential{Type: c.TokenType}
	if out.Token, err = v.open(c.Token); err != nil {
		return oauth.Credential{}, false, err
	}
	if out.Secret, err = v.open(c.Secret); err != nil {
		return oauth.Credential{}, false, err
	}
	if out.RefreshToken, err = v.open(c.RefreshToken); err != nil {
		return oauth.Credential{}, false, err
	}
	if c.ExpiresAt != nil {
		out.Expiry = c.ExpiresAt.UTC()
	}
	return out, true, nil
}

// Store inserts or replaces the credential of (identity, provider).
func (v *GormVault) Store(ctx context.Context, identity, provider string, cred oauth.Credential) error {
	var err error
	c := Credential{Identity: identity, Provider: provider, TokenType: cred.Type}
	if c.Token, err = v.seal(cred.Token); err != nil {
		return err
	}
	if c.Secret, err = v.seal(cred.Secret); err != nil {
		return err
	}
	if c.RefreshToken, err = v.seal(cred.RefreshToken); err != nil {
		return err
	}
	if !cred.Expiry.IsZero() {
		exp := cred.Expiry.UTC()
		c.ExpiresAt = &exp
	}

	err = v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token", "secret", "token_type", "refresh_token", "expires_at", "updated_at",
		}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("vault: store %s/%s: %w", identity, provider, err)
	}
	return nil
}

func (v *GormVault) Delete(ctx context.Context, identity, provider string) error {
	err := v.db.WithContext(ctx).
		Where("identity = ? AND provider = ?", identity, provider).
		Delete(&Credential{}).Error
	if err != nil {
		return fmt.Errorf("vault: delete %s/%s: %w", identity, provider, err)
	}
	return nil
}

// Providers lists the providers identity has credentials for.
func (v *GormVault) Providers(ctx context.Context, identity string) ([]string, error) {
	var out []string
	err := v.db.WithContext(ctx).Model(&Credential{}).
		Where("identity = ?", identity).
		Order("provider").
		Pluck("provider", &out).Error
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", identity, err)
	}
	return out, nil
}

func (v *GormVault) seal(s string) (string, error) {
	if v.sealer == nil || s == "" {
		return s, nil
	}
	sealed, err := v.sealer.Seal([]byte(s))
	if err != nil {
		return "", fmt.Errorf("vault: seal: %w", err)
	}
	return sealed, nil
}

func (v *GormVault) open(s string) (string, error) {
	if v.sealer == nil || s == "" {
		return s, nil
	}
	plain, err := v.sealer.Open(s)
	if err != nil {
		return "", fmt.Errorf("vault: open: %w", err)
	}
	return string(plain), nil
}
