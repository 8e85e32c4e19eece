package kv

import (
	"context"
	"database/sql"
	"fmt"

	"shareq/internal/log"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PGStore persists values in a single Postgres key-value table.
type PGStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewPGStore(databaseURL string, logger *log.Logger) (*PGStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Error("Failed to open postgres", zap.Error(err))
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS shareq_kv (
            key   TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )
    `)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create shareq_kv table: %w", err)
	}
	return &PGStore{db: db, logger: logger}, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM shareq_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("Failed to get key", zap.Error(err), zap.String("key", key))
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PGStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO shareq_kv (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
    `, key, value)
	if err != nil {
		s.logger.Error("Failed to set key", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shareq_kv WHERE key = $1`, key)
	if err != nil {
		s.logger.Error("Failed to delete key", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}
