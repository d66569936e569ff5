// Package database opens the SQL connection behind the credential vault.
// It uses pure Go database/sql drivers and layers GORM on top of the opened
// connection.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobeaver/beaver-social/config"

	// Database drivers - pure Go implementations for CGO-free connections
	_ "github.com/go-sql-driver/mysql"                   // MySQL
	_ "github.com/jackc/pgx/v5/stdlib"                   // PostgreSQL
	_ "github.com/tursodatabase/libsql-client-go/libsql" // LibSQL/Turso
	_ "modernc.org/sqlite"                               // SQLite

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Common errors
var (
	ErrInvalidDriver = errors.New("invalid database driver")
	ErrInvalidConfig = errors.New("invalid database configuration")
)

// Database wraps both sql.DB and gorm.DB
type Database struct {
	sqlDB  *sql.DB
	gormDB *gorm.DB
}

// Builder loads a Config from prefixed environment variables.
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Open loads configuration and connects.
func (b *Builder) Open(ctx context.Context) (*Database, error) {
	cfg, err := GetConfig(config.LoadOptions{Prefix: b.prefix})
	if err != nil {
		return nil, err
	}
	return Open(ctx, *cfg)
}

// Open connects with cfg and wraps the connection in GORM.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	sqlDB, err := NewSQL(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := NewGORM(cfg, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &Database{sqlDB: sqlDB, gormDB: gormDB}, nil
}

// SQL returns the underlying sql.DB instance
func (db *Database) SQL() *sql.DB {
	return db.sqlDB
}

// GORM returns the GORM handle
func (db *Database) GORM() *gorm.DB {
	return db.gormDB
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.sqlDB.Close()
}

// PingContext verifies the database connection is alive
func (db *Database) PingContext(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

// NewSQL opens and pings a connection for cfg.
func NewSQL(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	driverName, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewGORM creates a GORM instance from an existing SQL connection
func NewGORM(cfg Config, sqlDB *sql.DB) (*gorm.DB, error) {
	if sqlDB == nil {
		return nil, errors.New("sql.DB instance is required for GORM")
	}

	var dialector gorm.Dialector
	switch normalizeDriver(cfg.Driver) {
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	case "postgres":
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case "sqlite", "libsql":
		dialector = sqlite.Dialector{Conn: sqlDB}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDriver, cfg.Driver)
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	return gorm.Open(dialector, gormCfg)
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "libsql", "turso":
		return "libsql"
	default:
		return strings.ToLower(driver)
	}
}

func driverDSN(cfg Config) (driverName, dsn string, err error) {
	switch normalizeDriver(cfg.Driver) {
	case "mysql":
		return "mysql", buildMySQLDSN(cfg), nil
	case "postgres":
		return "pgx", buildPostgresDSN(cfg), nil
	case "sqlite":
		dsn = cfg.Database
		if cfg.URL != "" {
			dsn = cfg.URL
		}
		if dsn == "" {
			dsn = "file:social.db?cache=shared&mode=rwc"
		}
		return "sqlite", dsn, nil
	case "libsql":
		dsn = cfg.URL
		if cfg.AuthToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", cfg.URL, cfg.AuthToken)
		}
		return "libsql", dsn, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrInvalidDriver, cfg.Driver)
	}
}

func validateConfig(cfg Config) error {
	if cfg.Driver == "" {
		return errors.New("database driver required")
	}

	switch normalizeDriver(cfg.Driver) {
	case "libsql":
		if cfg.URL == "" {
			return errors.New("turso requires URL to be set")
		}
	case "sqlite":
	default:
		if cfg.URL == "" && (cfg.Host == "" || cfg.Database == "") {
			return errors.New("database connection details required")
		}
	}
	return nil
}

func buildMySQLDSN(cfg Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	port := cfg.Port
	if port == "" {
		port = "3306"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database)

	params := []string{"charset=utf8mb4", "parseTime=True", "loc=UTC"}
	if cfg.Params != "" {
		params = append(params, cfg.Params)
	}

	return dsn + "?" + strings.Join(params, "&")
}

func buildPostgresDSN(cfg Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	port := cfg.Port
	if port == "" {
		port = "5432"
	}

	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%s", port),
		fmt.Sprintf("user=%s", cfg.Username),
		fmt.Sprintf("password=%s", cfg.Password),
		fmt.Sprintf("dbname=%s", cfg.Database),
		fmt.Sprintf("sslmode=%s", cfg.SSLMode),
	}
	if cfg.Params != "" {
		parts = append(parts, cfg.Params)
	}

	return strings.Join(parts, " ")
}
