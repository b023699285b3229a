// Package repomanager vends repository implementations bound to a DBTX and
// runs the schema migrations for the configured SQL dialect.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/dmitrijs2005/passkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/masterpasswords"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/passkeeper/internal/server/sqlstore"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	MasterPasswords(db dbx.DBTX) masterpasswords.Repository
	Tokens(db dbx.DBTX) tokens.Repository
}

// SQLRepositoryManager serves both PostgreSQL (pgx) and SQLite (modernc)
// through the same store; only placeholders and migrations differ.
type SQLRepositoryManager struct {
	store        *sqlstore.Store
	gooseDialect string
	migrDir      string
	logger       logging.Logger
}

// NewRepositoryManager constructs a manager for a database/sql driver name
// ("pgx" or "sqlite").
func NewRepositoryManager(driver string) (*SQLRepositoryManager, error) {
	d, err := sqlstore.DialectForDriver(driver)
	if err != nil {
		return nil, err
	}

	m := &SQLRepositoryManager{store: sqlstore.New(d), logger: logging.Discard()}
	switch d {
	case sqlstore.DialectSQLite:
		m.gooseDialect, m.migrDir = "sqlite3", "sqlite"
	default:
		m.gooseDialect, m.migrDir = "pgx", "postgres"
	}
	return m, nil
}

// WithLogger routes migration progress to l.
func (m *SQLRepositoryManager) WithLogger(l logging.Logger) *SQLRepositoryManager {
	m.logger = l.With("module", "migrations")
	return m
}

// Store returns the statement builder shared by every repository.
func (m *SQLRepositoryManager) Store() *sqlstore.Store {
	return m.store
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db, m.store)
}

// MasterPasswords returns a masterpasswords.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) MasterPasswords(db dbx.DBTX) masterpasswords.Repository {
	return masterpasswords.NewSQLRepository(db, m.store)
}

// Tokens returns a tokens.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Tokens(db dbx.DBTX) tokens.Repository {
	return tokens.NewSQLRepository(db, m.store)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations of the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(&gooseLogger{ctx: ctx, l: m.logger})
	if err := goose.SetDialect(m.gooseDialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, m.migrDir); err != nil {
		return err
	}
	return nil
}

// Open opens a pool for driver/dsn. SQLite connections get foreign keys
// enabled so account removal cascades like it does on PostgreSQL.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*sql.DB, error) {
	if driver == "sqlite" || driver == "sqlite3" {
		driver = "sqlite"
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + url.QueryEscape("foreign_keys(1)")
}

// gooseLogger adapts logging.Logger to goose.Logger.
type gooseLogger struct {
	ctx context.Context
	l   logging.Logger
}

func (g *gooseLogger) Printf(format string, v ...any) {
	g.l.Info(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g *gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}
