// Package pipeline grades one submission: it resolves test data, builds the
// program, runs it against every test case in order and stops at the first
// failing case.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/sandbox"
	"github.com/mini-maxit/grader/internal/stages/compiler"
	"github.com/mini-maxit/grader/internal/stages/packager"
	"github.com/mini-maxit/grader/internal/stages/verifier"
	"github.com/mini-maxit/grader/pkg/constants"
	customErr "github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/languages"
	"github.com/mini-maxit/grader/pkg/messages"
	"github.com/mini-maxit/grader/pkg/solution"
)

//go:generate mockgen -destination=../../tests/mocks/mock_grader.go -package=mocks . Grader

// Grader turns a grading request into a result. Submission-caused outcomes
// (wrong answer, timeouts, crashes, compile and configuration failures) are
// verdicts; the returned error is reserved for engine failures worth retrying.
type Grader interface {
	Grade(ctx context.Context, req *messages.GradingRequest) (*solution.GradingResult, error)
}

type grader struct {
	packager packager.Packager
	compiler compiler.Compiler
	runner   sandbox.Runner
	verifier verifier.Verifier
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewGrader(
	packager packager.Packager,
	compiler compiler.Compiler,
	runner sandbox.Runner,
	verifier verifier.Verifier,
) Grader {
	return &grader{
		packager: packager,
		compiler: compiler,
		runner:   runner,
		verifier: verifier,
		logger:   logger.NewNamedLogger("grader"),
		now:      time.Now,
	}
}

func (g *grader) Grade(ctx context.Context, req *messages.GradingRequest) (*solution.GradingResult, error) {
	if req.SubmissionID == "" {
		return nil, customErr.ErrSubmissionIDRequired
	}
	g.logger.Infof("Grading submission [ID: %s, question: %s]", req.SubmissionID, req.QuestionCode)

	resolved, err := g.packager.Resolve(ctx, req)
	if err != nil {
		if errors.Is(err, customErr.ErrConfiguration) {
			return g.configurationFailure(req, err), nil
		}
		return nil, err
	}

	langType, mode, err := validate(resolved)
	if err != nil {
		g.logger.Warnf("Rejecting submission [ID: %s]: %s", req.SubmissionID, err)
		return g.configurationFailure(req, err), nil
	}

	artifact, err := g.compiler.Build(ctx, compiler.BuildRequest{
		ID:              req.SubmissionID,
		LanguageType:    langType,
		LanguageVersion: resolved.LanguageVersion,
		Source:          resolved.Source,
	})
	if err != nil {
		var compileErr *compiler.CompileError
		switch {
		case errors.As(err, &compileErr):
			result := g.newResult(req, solution.CompileError, constants.SolutionMessageCompilationError)
			result.CompileLog = compileErr.Log
			return result, nil
		case errors.Is(err, customErr.ErrInvalidLanguageType), errors.Is(err, customErr.ErrInvalidVersion):
			return g.configurationFailure(req, customErr.NewConfigurationError(constants.SolutionMessageInvalidLanguage)), nil
		default:
			return nil, err
		}
	}

	return g.runTestCases(ctx, req, resolved, artifact, mode)
}

func (g *grader) runTestCases(
	ctx context.Context,
	req, resolved *messages.GradingRequest,
	artifact *sandbox.Artifact,
	mode verifier.Mode,
) (*solution.GradingResult, error) {
	limits := sandbox.Limits{
		Time:     time.Duration(resolved.TimeLimitMs) * time.Millisecond,
		MemoryKB: resolved.MemoryLimitKB,
	}
	if limits.MemoryKB <= 0 {
		limits.MemoryKB = constants.DefaultMemoryLimitKB
	}

	result := g.newResult(req, solution.Accepted, constants.SolutionMessageAccepted)
	result.TestResults = make([]solution.TestResult, 0, len(resolved.TestCases))

	for i, tc := range resolved.TestCases {
		res, err := sandbox.Execute(ctx, g.runner, fmt.Sprintf("%s-%d", req.SubmissionID, i), artifact, tc.Input, limits)
		if err != nil {
			g.logger.Errorf("Sandbox failure on test case %d [ID: %s]: %s", i, req.SubmissionID, err)
			return nil, err
		}

		tr := g.verifier.EvaluateTestCase(i, caseName(tc, i), res, tc.Expected, mode)
		result.ElapsedMs += tr.ElapsedMs
		result.TestResults = append(result.TestResults, tr)

		if tr.Verdict != solution.Accepted {
			result.Verdict = tr.Verdict
			result.FailingCaseIndex = solution.IntPtr(i)
			result.Message = failureMessage(tr)
			break
		}
	}

	g.logger.Infof("Graded submission [ID: %s, verdict: %s, elapsed: %dms]",
		req.SubmissionID, result.Verdict, result.ElapsedMs)
	return result, nil
}

func validate(req *messages.GradingRequest) (languages.LanguageType, verifier.Mode, error) {
	if len(req.TestCases) == 0 {
		return 0, "", customErr.NewConfigurationError(constants.SolutionMessageNoTestCases)
	}
	for i, tc := range req.TestCases {
		if tc.Expected == nil {
			return 0, "", customErr.NewConfigurationError(
				fmt.Sprintf("%s (test case %d)", constants.SolutionMessageMissingExpected, i))
		}
	}
	if req.TimeLimitMs <= 0 {
		return 0, "", customErr.NewConfigurationError(constants.SolutionMessageInvalidTimeLimit)
	}
	langType, err := languages.ParseLanguageType(req.LanguageType)
	if err != nil {
		return 0, "", customErr.NewConfigurationError(constants.SolutionMessageInvalidLanguage)
	}
	var mode verifier.Mode
	if req.CompareMode != "" {
		if mode, err = verifier.ParseMode(req.CompareMode); err != nil {
			return 0, "", customErr.NewConfigurationError(err.Error())
		}
	}
	return langType, mode, nil
}

func (g *grader) newResult(req *messages.GradingRequest, verdict solution.Verdict, message string) *solution.GradingResult {
	return &solution.GradingResult{
		SubmissionID: req.SubmissionID,
		UserID:       req.UserID,
		QuestionCode: req.QuestionCode,
		Verdict:      verdict,
		Message:      message,
		TestResults:  []solution.TestResult{},
		GradedAt:     g.now().UTC(),
	}
}

func (g *grader) configurationFailure(req *messages.GradingRequest, err error) *solution.GradingResult {
	reason := err.Error()
	var cfgErr *customErr.ConfigurationError
	if errors.As(err, &cfgErr) {
		reason = cfgErr.Reason
	}
	return g.newResult(req, solution.ConfigurationError, fmt.Sprintf(constants.ConfigurationErrorMessageTemplate, reason))
}

func caseName(tc messages.TestCase, index int) string {
	if tc.Name != "" {
		return tc.Name
	}
	return strconv.Itoa(index + 1)
}

func failureMessage(tr solution.TestResult) string {
	switch tr.Verdict {
	case solution.TimeLimitExceeded:
		if tr.MemoryExceeded {
			return fmt.Sprintf(constants.TestCaseMessageFailed, tr.Index, constants.SolutionMessageMemoryLimit)
		}
		return fmt.Sprintf(constants.TestCaseMessageFailed, tr.Index, constants.SolutionMessageTimeout)
	case solution.RuntimeError:
		return fmt.Sprintf(constants.TestCaseMessageRuntimeWithExit, tr.Index, tr.ExitCode)
	default:
		return fmt.Sprintf(constants.TestCaseMessageFailed, tr.Index, constants.SolutionMessageWrongAnswer)
	}
}
