package scoring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/grader/internal/scoring"
	"github.com/mini-maxit/grader/pkg/solution"
	mocks "github.com/mini-maxit/grader/tests/mocks"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name     string
		verdict  solution.Verdict
		credited bool
		want     int
	}{
		{"first accept", solution.Accepted, false, 8},
		{"repeat accept", solution.Accepted, true, 7},
		{"wrong answer", solution.WrongAnswer, false, 7},
		{"timeout", solution.TimeLimitExceeded, false, 7},
		{"runtime error", solution.RuntimeError, false, 7},
		{"compile error", solution.CompileError, false, 7},
		{"configuration error", solution.ConfigurationError, false, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, scoring.Score(7, c.verdict, c.credited))
		})
	}
}

func TestApply_CreditsFirstAcceptOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	scorer := scoring.NewScorer(ledger)

	result := &solution.GradingResult{SubmissionID: "sub-1", UserID: 4, QuestionCode: "APB", Verdict: solution.Accepted, ElapsedMs: 120}
	gomock.InOrder(
		ledger.EXPECT().Credit(gomock.Any(), int64(4), "APB", 1, int64(120)).Return(true, nil),
		ledger.EXPECT().Credit(gomock.Any(), int64(4), "APB", 1, int64(120)).Return(false, nil),
	)

	first, err := scorer.Apply(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, scoring.Outcome{Delta: 1, FirstAccept: true}, first)

	again, err := scorer.Apply(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, scoring.Outcome{}, again)
}

func TestApply_IgnoresRejectedVerdicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := scoring.NewScorer(mocks.NewMockLedger(ctrl))

	for _, v := range []solution.Verdict{solution.WrongAnswer, solution.TimeLimitExceeded, solution.CompileError} {
		outcome, err := scorer.Apply(context.Background(), &solution.GradingResult{Verdict: v})
		require.NoError(t, err)
		assert.Zero(t, outcome.Delta)
	}
}

func TestApply_LedgerFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	scorer := scoring.NewScorer(ledger)

	dbErr := errors.New("connection reset")
	ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, dbErr)

	_, err := scorer.Apply(context.Background(), &solution.GradingResult{Verdict: solution.Accepted, UserID: 1, QuestionCode: "Q"})
	assert.ErrorIs(t, err, dbErr)
}
