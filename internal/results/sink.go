// Package results delivers grading outcomes: it stores the result, credits the
// user and answers on the job's reply queue.
package results

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/rabbitmq/responder"
	"github.com/mini-maxit/grader/internal/repository"
	"github.com/mini-maxit/grader/internal/scheduler"
	"github.com/mini-maxit/grader/internal/scoring"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/messages"
	"github.com/mini-maxit/grader/pkg/solution"
)

type sink struct {
	responder responder.Responder
	store     repository.SubmissionRepository
	scorer    *scoring.Scorer
	logger    *zap.SugaredLogger
}

// NewSink builds the scheduler's result sink. store and scorer are optional; a
// deployment without a database only publishes results.
func NewSink(
	responder responder.Responder,
	store repository.SubmissionRepository,
	scorer *scoring.Scorer,
) scheduler.ResultSink {
	return &sink{
		responder: responder,
		store:     store,
		scorer:    scorer,
		logger:    logger.NewNamedLogger("results"),
	}
}

// PublishResult is safe to repeat for the same result: the store upserts and
// scoring credits a question at most once.
func (s *sink) PublishResult(ctx context.Context, job scheduler.Job, result *solution.GradingResult) error {
	if s.store != nil {
		if err := s.store.SaveResult(ctx, result); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
	}

	if s.scorer != nil {
		outcome, err := s.scorer.Apply(ctx, result)
		if err != nil {
			return fmt.Errorf("apply score: %w", err)
		}
		if outcome.FirstAccept {
			s.logger.Infof("First accepted submission [ID: %s, user: %d, question: %s]",
				result.SubmissionID, result.UserID, result.QuestionCode)
		}
	}

	if err := s.responder.PublishGradeResult(constants.QueueMessageTypeGrade, job.MessageID, job.ReplyTo, result); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	s.logger.Infof("Published result [ID: %s, verdict: %s, elapsed: %dms]",
		result.SubmissionID, result.Verdict, result.ElapsedMs)
	return nil
}

// PublishFailure tells the caller the submission is still pending. The cause is
// only logged since it may carry host paths.
func (s *sink) PublishFailure(_ context.Context, job scheduler.Job, cause error) error {
	submissionID := ""
	if job.Request != nil {
		submissionID = job.Request.SubmissionID
	}
	s.logger.Errorf("Grading gave up [ID: %s, MsgID: %s]: %s", submissionID, job.MessageID, cause)

	return s.responder.PublishGradeFailure(constants.QueueMessageTypeGrade, job.MessageID, job.ReplyTo,
		messages.GradeFailurePayload{
			SubmissionID: submissionID,
			Verdict:      solution.Pending.String(),
			Error:        constants.SolutionMessageRetriesExhausted,
		})
}
