package repository

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/solution"
)

//go:generate mockgen -destination=../../tests/mocks/mock_submission_repository.go -package=mocks . SubmissionRepository

type SubmissionRepository interface {
	// SaveResult stores the outcome of a grading pass, replacing any earlier one.
	SaveResult(ctx context.Context, result *solution.GradingResult) error
	GetResult(ctx context.Context, submissionID string) (*solution.GradingResult, error)
}

type resultRow struct {
	SubmissionID string        `db:"submission_id"`
	UserID       int64         `db:"user_id"`
	QuestionCode string        `db:"question_code"`
	Verdict      string        `db:"verdict"`
	ElapsedMs    int64         `db:"elapsed_ms"`
	FailingCase  sql.NullInt32 `db:"failing_case"`
	Message      string        `db:"message"`
	CompileLog   string        `db:"compile_log"`
	GradedAt     time.Time     `db:"graded_at"`
}

type submissionRepository struct {
	db *sqlx.DB
}

func NewSubmissionRepository(db *sqlx.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) SaveResult(ctx context.Context, result *solution.GradingResult) error {
	row := resultRow{
		SubmissionID: result.SubmissionID,
		UserID:       result.UserID,
		QuestionCode: result.QuestionCode,
		Verdict:      result.Verdict.String(),
		ElapsedMs:    result.ElapsedMs,
		Message:      result.Message,
		CompileLog:   result.CompileLog,
		GradedAt:     result.GradedAt,
	}
	if result.FailingCaseIndex != nil {
		row.FailingCase = sql.NullInt32{Int32: int32(*result.FailingCaseIndex), Valid: true}
	}

	query := `
		INSERT INTO submission_results (
			submission_id, user_id, question_code, verdict, elapsed_ms,
			failing_case, message, compile_log, graded_at
		) VALUES (
			:submission_id, :user_id, :question_code, :verdict, :elapsed_ms,
			:failing_case, :message, :compile_log, :graded_at
		)
		ON CONFLICT (submission_id) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			elapsed_ms = EXCLUDED.elapsed_ms,
			failing_case = EXCLUDED.failing_case,
			message = EXCLUDED.message,
			compile_log = EXCLUDED.compile_log,
			graded_at = EXCLUDED.graded_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToStoreResult, err)
	}
	return nil
}

func (r *submissionRepository) GetResult(ctx context.Context, submissionID string) (*solution.GradingResult, error) {
	var row resultRow
	err := r.db.GetContext(ctx, &row, `
		SELECT submission_id, user_id, question_code, verdict, elapsed_ms,
			failing_case, message, compile_log, graded_at
		FROM submission_results
		WHERE submission_id = $1
	`, submissionID)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result of %s: %w", submissionID, err)
	}

	verdict, ok := solution.ParseVerdict(row.Verdict)
	if !ok {
		return nil, fmt.Errorf("submission %s has unknown verdict %q", submissionID, row.Verdict)
	}
	result := &solution.GradingResult{
		SubmissionID: row.SubmissionID,
		UserID:       row.UserID,
		QuestionCode: row.QuestionCode,
		Verdict:      verdict,
		ElapsedMs:    row.ElapsedMs,
		Message:      row.Message,
		CompileLog:   row.CompileLog,
		TestResults:  []solution.TestResult{},
		GradedAt:     row.GradedAt.UTC(),
	}
	if row.FailingCase.Valid {
		result.FailingCaseIndex = solution.IntPtr(int(row.FailingCase.Int32))
	}
	return result, nil
}
