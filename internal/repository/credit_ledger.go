package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mini-maxit/grader/internal/scoring"
)

// UserScore is a leaderboard row. Ties on score are broken by the lower total time.
type UserScore struct {
	UserID      int64 `db:"user_id"`
	Score       int   `db:"score"`
	TotalTimeMs int64 `db:"total_time_ms"`
}

type CreditLedger struct {
	db *sqlx.DB
}

var _ scoring.Ledger = (*CreditLedger)(nil)

func NewCreditLedger(db *sqlx.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

func (l *CreditLedger) Credit(
	ctx context.Context,
	userID int64,
	questionCode string,
	points int,
	elapsedMs int64,
) (bool, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin credit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO question_credits (user_id, question_code)
		VALUES ($1, $2)
		ON CONFLICT (user_id, question_code) DO NOTHING
	`, userID, questionCode)
	if err != nil {
		return false, fmt.Errorf("insert credit: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert credit: %w", err)
	}
	if inserted == 0 {
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_scores (user_id, score, total_time_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			score = user_scores.score + EXCLUDED.score,
			total_time_ms = user_scores.total_time_ms + EXCLUDED.total_time_ms
	`, userID, points, elapsedMs)
	if err != nil {
		return false, fmt.Errorf("update user score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit credit: %w", err)
	}
	return true, nil
}

func (l *CreditLedger) UserScore(ctx context.Context, userID int64) (UserScore, error) {
	score := UserScore{UserID: userID}
	err := l.db.GetContext(ctx, &score,
		`SELECT user_id, score, total_time_ms FROM user_scores WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return score, nil
		}
		return UserScore{}, fmt.Errorf("get score of user %d: %w", userID, err)
	}
	return score, nil
}

func (l *CreditLedger) Leaderboard(ctx context.Context, limit int) ([]UserScore, error) {
	scores := []UserScore{}
	err := l.db.SelectContext(ctx, &scores, `
		SELECT user_id, score, total_time_ms
		FROM user_scores
		ORDER BY score DESC, total_time_ms ASC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	return scores, nil
}
