package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads values from a table of (orig_key, orig_value) rows. Values are
// stored hex encoded; anything that is not valid hex is returned as raw bytes.
type Postgres struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgres connects a pool sized for the given number of workers.
func NewPostgres(ctx context.Context, dsn, table string, workers int) (*Postgres, error) {
	if table == "" {
		return nil, errors.New("source table name is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if workers > 0 {
		cfg.MaxConns = int32(workers) //nolint:gosec // worker counts are small
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect source: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping source: %w", err)
	}
	return &Postgres{
		pool:  pool,
		query: "SELECT orig_value FROM " + pgx.Identifier{table}.Sanitize() + " WHERE orig_key = $1",
	}, nil
}

func (s *Postgres) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	var stored string
	err := s.pool.QueryRow(ctx, s.query, key).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("source lookup %q: %w", key, err)
	}
	return decodeStored(stored), true, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func decodeStored(s string) []byte {
	if v, err := hex.DecodeString(s); err == nil {
		return v
	}
	return []byte(s)
}
