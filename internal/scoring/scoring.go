// Package scoring turns verdicts into score changes. A user earns one point per
// question, the first time a submission for it is accepted.
package scoring

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/solution"
)

//go:generate mockgen -destination=../../tests/mocks/mock_ledger.go -package=mocks . Ledger

const pointsPerQuestion = 1

// Score returns the user's score after verdict. Only a first-time accepted
// question changes it.
func Score(previous int, verdict solution.Verdict, alreadyCredited bool) int {
	return previous + Delta(verdict, alreadyCredited)
}

func Delta(verdict solution.Verdict, alreadyCredited bool) int {
	if verdict != solution.Accepted || alreadyCredited {
		return 0
	}
	return pointsPerQuestion
}

// Ledger remembers which (user, question) pairs were credited.
type Ledger interface {
	// Credit records the pair and adds points and elapsed time to the user's totals
	// in one step. It returns false, changing nothing, when the pair was already credited.
	Credit(ctx context.Context, userID int64, questionCode string, points int, elapsedMs int64) (bool, error)
}

type Outcome struct {
	Delta       int
	FirstAccept bool
}

type Scorer struct {
	ledger Ledger
	logger *zap.SugaredLogger
}

func NewScorer(ledger Ledger) *Scorer {
	return &Scorer{ledger: ledger, logger: logger.NewNamedLogger("scoring")}
}

// Apply credits the user for result if it is their first accepted submission for
// the question. Applying the same result again is a no-op.
func (s *Scorer) Apply(ctx context.Context, result *solution.GradingResult) (Outcome, error) {
	if result.Verdict != solution.Accepted {
		return Outcome{}, nil
	}

	first, err := s.ledger.Credit(ctx, result.UserID, result.QuestionCode, pointsPerQuestion, result.ElapsedMs)
	if err != nil {
		return Outcome{}, fmt.Errorf("credit user %d for %s: %w", result.UserID, result.QuestionCode, err)
	}

	outcome := Outcome{Delta: Delta(result.Verdict, !first), FirstAccept: first}
	if first {
		s.logger.Infof("Credited user %d for question %s [submission: %s]", result.UserID, result.QuestionCode, result.SubmissionID)
	}
	return outcome, nil
}
