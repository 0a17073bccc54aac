package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS submission_results (
	submission_id TEXT PRIMARY KEY,
	user_id       BIGINT NOT NULL,
	question_code TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	elapsed_ms    BIGINT NOT NULL,
	failing_case  INTEGER,
	message       TEXT NOT NULL DEFAULT '',
	compile_log   TEXT NOT NULL DEFAULT '',
	graded_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS question_credits (
	user_id       BIGINT NOT NULL,
	question_code TEXT NOT NULL,
	credited_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, question_code)
);

CREATE TABLE IF NOT EXISTS user_scores (
	user_id       BIGINT PRIMARY KEY,
	score         INTEGER NOT NULL DEFAULT 0,
	total_time_ms BIGINT NOT NULL DEFAULT 0
);
`

// Open connects to Postgres and makes sure the grader's tables exist.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
