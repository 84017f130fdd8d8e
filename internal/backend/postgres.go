package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Postgres is the transactional relational variant. Each worker owns one
// connection. Reads and inserts each run in their own transaction, and the
// unique constraint on the key column turns a concurrent double-miss into
// ErrConflict.
type Postgres struct {
	dsn   string
	table string
}

// NewPostgres creates a PostgreSQL backend caching into cfg.CacheTable.
func NewPostgres(cfg Config) *Postgres {
	table := cfg.CacheTable
	if table == "" {
		table = DefaultCacheTable
	}
	return &Postgres{dsn: cfg.PostgresDSN, table: pgx.Identifier{table}.Sanitize()}
}

func (*Postgres) Kind() Kind { return KindPostgres }

func (b *Postgres) Connect(ctx context.Context) (Conn, error) {
	c, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", connError(err))
	}
	return &postgresConn{
		c:         c,
		selectSQL: "SELECT value FROM " + b.table + " WHERE key = $1",
		insertSQL: "INSERT INTO " + b.table + " (key, value) VALUES ($1, $2)",
	}, nil
}

// Prepare drops and recreates the cache table.
func (b *Postgres) Prepare(ctx context.Context) error {
	c, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", connError(err))
	}
	defer c.Close(ctx) //nolint:errcheck // best-effort close

	stmts := []string{
		"DROP TABLE IF EXISTS " + b.table,
		"CREATE UNLOGGED TABLE " + b.table + ` (
			id SERIAL PRIMARY KEY,
			key VARCHAR NOT NULL UNIQUE,
			value VARCHAR NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("prepare cache table: %w", err)
		}
	}
	return nil
}

func (*Postgres) Close() error { return nil }

type postgresConn struct {
	c         *pgx.Conn
	selectSQL string
	insertSQL string
}

func (c *postgresConn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("postgres begin: %w", connError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var stored string
	err = tx.QueryRow(ctx, c.selectSQL, key).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, tx.Commit(ctx)
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %q: %w", key, connError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("postgres commit: %w", connError(err))
	}

	v, err := hex.DecodeString(stored)
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %q: stored value is not hex: %w", key, err)
	}
	return v, true, nil
}

func (c *postgresConn) Set(ctx context.Context, key string, value []byte) error {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", connError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, c.insertSQL, key, hex.EncodeToString(value)); err != nil {
		return insertError(key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return insertError(key, err)
	}
	return nil
}

func (c *postgresConn) Close() error {
	return c.c.Close(context.Background())
}

// insertError maps a unique violation to ErrConflict.
func insertError(key string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres set %q: %w", key, ErrConflict)
	}
	return fmt.Errorf("postgres set %q: %w", key, connError(err))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
