// Package engine wraps sqlx with database type detection, dialect-specific queries and per-namespace storage.
// Supported engines are sqlite (default, file based) and postgres.
package engine

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with type.
// Type allows distinguishing between different database engines.
type SQL struct {
	sqlx.DB
	gid    string // group id, namespace of all records written by this instance
	dbType Type   // type of the database engine
}

// TableConfig defines how to initialize a table
type TableConfig struct {
	Name          string                                                  // table name
	CreateTable   DBCmd                                                   // command to create the table
	CreateIndexes DBCmd                                                   // command to create indexes, 0 - none
	MigrateFunc   func(ctx context.Context, tx *sqlx.Tx, gid string) error // migration of existing data, optional
	QueriesMap    *QueryMap                                               // queries of the table
}

// connection attempts to postgres at startup
var pgConnectAttempts, pgConnectDelay = 5, 500 * time.Millisecond

// New makes a database engine from the connection url. Postgres urls start with postgres:// or postgresql://,
// everything else with known prefixes (file:, sqlite://), suffixes (.db, .sqlite) or :memory: is sqlite.
func New(ctx context.Context, connURL, gid string) (*SQL, error) {
	if connURL == "" {
		return nil, fmt.Errorf("connection URL is empty")
	}

	switch {
	case strings.HasPrefix(connURL, "postgres://"), strings.HasPrefix(connURL, "postgresql://"):
		res, err := NewPostgres(ctx, connURL, gid)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return res, nil
	case connURL == ":memory:", strings.HasSuffix(connURL, ".db"), strings.HasSuffix(connURL, ".sqlite"):
		return NewSqlite(connURL, gid)
	case strings.HasPrefix(connURL, "file://"):
		return NewSqlite(strings.TrimPrefix(connURL, "file://"), gid)
	case strings.HasPrefix(connURL, "file:"):
		return NewSqlite(strings.TrimPrefix(connURL, "file:"), gid)
	case strings.HasPrefix(connURL, "sqlite://"):
		return NewSqlite(strings.TrimPrefix(connURL, "sqlite://"), gid)
	}
	return nil, fmt.Errorf("unsupported database type in connection string %q", connURL)
}

// NewSqlite creates a new sqlite database
func NewSqlite(file, gid string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, err
	}
	if err := setSqlitePragma(db); err != nil {
		return &SQL{}, err
	}
	if file == ":memory:" {
		db.SetMaxOpenConns(1) // each connection to :memory: is a separate database
	}
	return &SQL{DB: *db, gid: gid, dbType: Sqlite}, nil
}

// NewPostgres creates a new postgres connection. The database from the url is created if missing.
// Connection is retried a few times to let a freshly started server come up.
func NewPostgres(ctx context.Context, connURL, gid string) (*SQL, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection url: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return nil, fmt.Errorf("database name not specified in %q", u.Redacted())
	}

	if err := ensurePgDatabase(ctx, u, dbName); err != nil {
		return nil, err
	}

	var db *sqlx.DB
	err = repeater.NewDefault(pgConnectAttempts, pgConnectDelay).Do(ctx, func() error {
		var e error
		db, e = sqlx.ConnectContext(ctx, "postgres", connURL)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}
	return &SQL{DB: *db, gid: gid, dbType: Postgres}, nil
}

// ensurePgDatabase connects to the maintenance database and creates dbName if it doesn't exist
func ensurePgDatabase(ctx context.Context, u *url.URL, dbName string) error {
	adm := *u
	adm.Path = "/postgres"

	var db *sqlx.DB
	err := repeater.NewDefault(pgConnectAttempts, pgConnectDelay).Do(ctx, func() error {
		var e error
		db, e = sqlx.ConnectContext(ctx, "postgres", adm.String())
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres server %s: %w", adm.Redacted(), err)
	}
	defer db.Close()

	var exists bool
	if err := db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName); err != nil {
		return fmt.Errorf("failed to check database %q: %w", dbName, err)
	}
	if exists {
		return nil
	}
	// database names can't be parameterized
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+quoteIdent(dbName)); err != nil {
		return fmt.Errorf("failed to create database %q: %w", dbName, err)
	}
	log.Printf("[INFO] created postgres database %q", dbName)
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// GID returns the group id
func (e *SQL) GID() string {
	return e.gid
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// MakeLock creates a new lock for the database engine
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex) // sqlite need locking
	}
	return &NoopLocker{} // other engines don't need locking
}

// Adopt converts "?" placeholders to "$n" for postgres, question marks inside string literals are kept.
// Queries for other engines are returned as is.
func (e *SQL) Adopt(q string) string {
	if e.dbType != Postgres {
		return q
	}
	return pgPlaceholders(q)
}

func pgPlaceholders(q string) string {
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n, inLiteral := 0, false
	for _, r := range q {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
		case r == '?' && !inLiteral:
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func setSqlitePragma(db *sqlx.DB) error {
	pragmas := map[string]string{
		"busy_timeout": "5000",
	}
	for name, value := range pragmas {
		if _, err := db.Exec("PRAGMA " + name + " = " + value); err != nil {
			return err
		}
	}
	return nil
}

// InitTable creates the table with indexes and runs migration, all in a single transaction
func InitTable(ctx context.Context, db *SQL, cfg TableConfig) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	createTable, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateTable)
	if err != nil {
		return fmt.Errorf("failed to get create table query for %s: %w", cfg.Name, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err = tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.Name, err)
	}

	if cfg.MigrateFunc != nil {
		if err = cfg.MigrateFunc(ctx, tx, db.GID()); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", cfg.Name, err)
		}
	}

	if cfg.CreateIndexes != 0 {
		createIndexes, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateIndexes)
		if err != nil {
			return fmt.Errorf("failed to get create indexes query for %s: %w", cfg.Name, err)
		}
		if _, err = tx.ExecContext(ctx, createIndexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", cfg.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
