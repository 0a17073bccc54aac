package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/grader/internal/pipeline"
	"github.com/mini-maxit/grader/internal/sandbox"
	"github.com/mini-maxit/grader/internal/stages/compiler"
	"github.com/mini-maxit/grader/internal/stages/verifier"
	pkgerrors "github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/languages"
	"github.com/mini-maxit/grader/pkg/messages"
	"github.com/mini-maxit/grader/pkg/solution"
	mocks "github.com/mini-maxit/grader/tests/mocks"
)

var testArtifact = &sandbox.Artifact{Image: "img", Files: map[string][]byte{"solution": []byte("ELF")}, RunCmd: []string{"./solution"}}

type fixture struct {
	packager *mocks.MockPackager
	compiler *mocks.MockCompiler
	runner   *mocks.MockRunner
	grader   pipeline.Grader
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		packager: mocks.NewMockPackager(ctrl),
		compiler: mocks.NewMockCompiler(ctrl),
		runner:   mocks.NewMockRunner(ctrl),
	}
	f.grader = pipeline.NewGrader(f.packager, f.compiler, f.runner, verifier.NewVerifier(verifier.ModeTrailing))
	return f
}

// passThrough makes the packager return the request unchanged.
func (f *fixture) passThrough() {
	f.packager.EXPECT().Resolve(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *messages.GradingRequest) (*messages.GradingRequest, error) {
			return req, nil
		}).AnyTimes()
}

func (f *fixture) builds() {
	f.compiler.EXPECT().Build(gomock.Any(), gomock.Any()).Return(testArtifact, nil).AnyTimes()
}

// outputs makes the runner answer every execution with the next result.
func (f *fixture) outputs(results ...*sandbox.ExecResult) {
	calls := 0
	f.runner.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
			res := results[calls%len(results)]
			calls++
			return res, nil
		}).AnyTimes()
}

func ok(stdout string, elapsed time.Duration) *sandbox.ExecResult {
	return &sandbox.ExecResult{Status: sandbox.StatusOK, Stdout: []byte(stdout), Elapsed: elapsed}
}

func request(cases ...messages.TestCase) *messages.GradingRequest {
	return &messages.GradingRequest{
		SubmissionID:    "sub-1",
		UserID:          3,
		QuestionCode:    "APB",
		LanguageType:    "CPP",
		LanguageVersion: "17",
		Source:          []byte("int main(){}"),
		TimeLimitMs:     1000,
		TestCases:       cases,
	}
}

func tc(input, expected string) messages.TestCase {
	return messages.TestCase{Input: []byte(input), Expected: []byte(expected)}
}

func TestGrade_AllCasesPass(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(ok("1\n", 10*time.Millisecond), ok("2\n", 20*time.Millisecond), ok("3\n", 30*time.Millisecond))

	res, err := f.grader.Grade(context.Background(), request(tc("a", "1"), tc("b", "2"), tc("c", "3")))
	require.NoError(t, err)
	assert.Equal(t, solution.Accepted, res.Verdict)
	assert.Nil(t, res.FailingCaseIndex)
	assert.Equal(t, int64(60), res.ElapsedMs)
	assert.Len(t, res.TestResults, 3)
	assert.Equal(t, "sub-1", res.SubmissionID)
	assert.Equal(t, int64(3), res.UserID)
	assert.Equal(t, "APB", res.QuestionCode)
}

func TestGrade_FailFastReportsFirstFailingIndex(t *testing.T) {
	for failing := 0; failing < 4; failing++ {
		f := newFixture(t)
		f.passThrough()
		f.builds()

		executed := 0
		f.runner.EXPECT().Execute(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
				idx := executed
				executed++
				if idx >= failing {
					// every case from the failing one on is wrong
					return ok("wrong", time.Millisecond), nil
				}
				return ok("ok", time.Millisecond), nil
			}).AnyTimes()

		res, err := f.grader.Grade(context.Background(),
			request(tc("", "ok"), tc("", "ok"), tc("", "ok"), tc("", "ok")))
		require.NoError(t, err)
		assert.Equal(t, solution.WrongAnswer, res.Verdict)
		require.NotNil(t, res.FailingCaseIndex)
		assert.Equal(t, failing, *res.FailingCaseIndex)
		assert.Equal(t, failing+1, executed, "cases after the first failure must not run")
		assert.Equal(t, int64(failing+1), res.ElapsedMs)
	}
}

func TestGrade_TimeLimitExceeded(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(ok("5", 100*time.Millisecond),
		&sandbox.ExecResult{Status: sandbox.StatusTimeLimitExceeded, Stdout: []byte("5"), Elapsed: time.Second})

	res, err := f.grader.Grade(context.Background(), request(tc("2 3", "5"), tc("2 3", "5")))
	require.NoError(t, err)
	assert.Equal(t, solution.TimeLimitExceeded, res.Verdict)
	assert.Equal(t, 1, res.FailingCase())
	assert.Equal(t, int64(1100), res.ElapsedMs)
	assert.Contains(t, res.Message, "time limit")
}

func TestGrade_MemoryLimitIsReportedAsResourceFailure(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(&sandbox.ExecResult{Status: sandbox.StatusTimeLimitExceeded, MemoryExceeded: true})

	res, err := f.grader.Grade(context.Background(), request(tc("", "5")))
	require.NoError(t, err)
	assert.Equal(t, solution.TimeLimitExceeded, res.Verdict)
	assert.True(t, res.TestResults[0].MemoryExceeded)
	assert.Contains(t, res.Message, "memory")
}

func TestGrade_RuntimeError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(&sandbox.ExecResult{Status: sandbox.StatusRuntimeError, ExitCode: 2, Stdout: []byte("5")})

	res, err := f.grader.Grade(context.Background(), request(tc("", "5")))
	require.NoError(t, err)
	assert.Equal(t, solution.RuntimeError, res.Verdict)
	assert.Equal(t, 0, res.FailingCase())
	assert.Contains(t, res.Message, "code 2")
}

func TestGrade_ZeroTestCasesIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()

	res, err := f.grader.Grade(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, solution.ConfigurationError, res.Verdict)
	assert.NotEqual(t, solution.Accepted, res.Verdict)
	assert.Nil(t, res.FailingCaseIndex)
}

func TestGrade_MissingExpectedOutputIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()

	res, err := f.grader.Grade(context.Background(),
		request(tc("1", "1"), messages.TestCase{Input: []byte("2")}))
	require.NoError(t, err)
	assert.Equal(t, solution.ConfigurationError, res.Verdict)
	assert.Contains(t, res.Message, "test case 1")
}

func TestGrade_EmptyExpectedOutputIsValid(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(ok("\n", 0))

	res, err := f.grader.Grade(context.Background(), request(tc("", "")))
	require.NoError(t, err)
	assert.Equal(t, solution.Accepted, res.Verdict)
}

func TestGrade_InvalidRequestFields(t *testing.T) {
	cases := map[string]func(*messages.GradingRequest){
		"zero time limit":  func(r *messages.GradingRequest) { r.TimeLimitMs = 0 },
		"unknown language": func(r *messages.GradingRequest) { r.LanguageType = "COBOL" },
		"unknown mode":     func(r *messages.GradingRequest) { r.CompareMode = "fuzzy" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.passThrough()
			req := request(tc("", "5"))
			mutate(req)

			res, err := f.grader.Grade(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, solution.ConfigurationError, res.Verdict)
		})
	}
}

func TestGrade_UnsupportedVersionIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.compiler.EXPECT().Build(gomock.Any(), gomock.Any()).Return(nil, pkgerrors.ErrInvalidVersion)

	res, err := f.grader.Grade(context.Background(), request(tc("", "5")))
	require.NoError(t, err)
	assert.Equal(t, solution.ConfigurationError, res.Verdict)
}

func TestGrade_CompileError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.compiler.EXPECT().Build(gomock.Any(), compiler.BuildRequest{
		ID: "sub-1", LanguageType: languages.CPP, LanguageVersion: "17", Source: []byte("int main(){}"),
	}).Return(nil, &compiler.CompileError{Log: "solution.cpp:1:1: error: expected ';'"})

	res, err := f.grader.Grade(context.Background(), request(tc("", "5")))
	require.NoError(t, err)
	assert.Equal(t, solution.CompileError, res.Verdict)
	assert.Contains(t, res.CompileLog, "expected ';'")
	assert.Nil(t, res.FailingCaseIndex)
}

func TestGrade_SandboxFailureIsReturnedAsError(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.runner.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, pkgerrors.ErrSandboxInternal)

	_, err := f.grader.Grade(context.Background(), request(tc("", "5")))
	assert.ErrorIs(t, err, pkgerrors.ErrSandboxInternal)
}

func TestGrade_PackagerErrors(t *testing.T) {
	f := newFixture(t)
	f.packager.EXPECT().Resolve(gomock.Any(), gomock.Any()).
		Return(nil, pkgerrors.NewConfigurationError("test input \"2\" has no expected output"))

	res, err := f.grader.Grade(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, solution.ConfigurationError, res.Verdict)
	assert.Contains(t, res.Message, "no expected output")

	f = newFixture(t)
	f.packager.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(nil, pkgerrors.ErrStorage)
	_, err = f.grader.Grade(context.Background(), request())
	assert.ErrorIs(t, err, pkgerrors.ErrStorage)
}

func TestGrade_RequiresSubmissionID(t *testing.T) {
	f := newFixture(t)
	req := request(tc("", "5"))
	req.SubmissionID = ""

	_, err := f.grader.Grade(context.Background(), req)
	assert.ErrorIs(t, err, pkgerrors.ErrSubmissionIDRequired)
}

func TestGrade_APlusBScenario(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		mode   string
		want   solution.Verdict
	}{
		{"newline", "5\n", "", solution.Accepted},
		{"trailing space default", "5 ", "", solution.Accepted},
		{"trailing space strict", "5 ", "exact", solution.WrongAnswer},
		{"wrong sum", "6\n", "", solution.WrongAnswer},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.passThrough()
			f.builds()
			f.runner.EXPECT().Execute(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
					assert.Equal(t, []byte("2 3"), req.Stdin)
					assert.Equal(t, time.Second, req.TimeLimit)
					return ok(c.stdout, 5*time.Millisecond), nil
				})

			req := request(tc("2 3", "5"))
			req.CompareMode = c.mode
			res, err := f.grader.Grade(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, c.want, res.Verdict)
		})
	}
}

func TestGrade_RegradingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.passThrough()
	f.builds()
	f.outputs(ok("1", 0), ok("x", 0))

	req := request(tc("", "1"), tc("", "2"))
	first, err := f.grader.Grade(context.Background(), req)
	require.NoError(t, err)
	second, err := f.grader.Grade(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.FailingCase(), second.FailingCase())
	assert.Equal(t, solution.WrongAnswer, second.Verdict)
}
