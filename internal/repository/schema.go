package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "accounts table",
		sql: `
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			surname VARCHAR(64) NOT NULL CHECK (char_length(surname) >= 5),
			given_name VARCHAR(64) NOT NULL CHECK (char_length(given_name) >= 3),
			phone VARCHAR(9) NOT NULL UNIQUE CHECK (phone ~ '^[0-9]{9}$'),
			password VARCHAR(128) NOT NULL CHECK (char_length(password) >= 3),
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			status VARCHAR(16) NOT NULL DEFAULT 'blocked' CHECK (status IN ('blocked', 'active'))
		);
	`,
	},
	{
		name: "session_records table",
		sql: `
		CREATE TABLE IF NOT EXISTS session_records (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			surname VARCHAR(64) NOT NULL,
			given_name VARCHAR(64) NOT NULL,
			phone VARCHAR(9) NOT NULL,
			balance_consumed BIGINT NOT NULL DEFAULT 0,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			elapsed_minutes INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_session_records_account_time ON session_records(account_id, start_time DESC);
	`,
	},
}

// Migrate applies the PostgreSQL schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
