package compiler_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/grader/internal/sandbox"
	. "github.com/mini-maxit/grader/internal/stages/compiler"
	"github.com/mini-maxit/grader/pkg/constants"
	pkgErr "github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/languages"
	"github.com/mini-maxit/grader/tests/mocks"
)

func TestBuild_CompiledLanguage(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
			assert.Equal(t, "9-compile", req.ID)
			assert.Equal(t, []string{"g++", "-O2", "-std=c++17", "-o", "solution", "solution.cpp"}, req.Cmd)
			assert.Equal(t, []byte("int main(){}"), req.Files["solution.cpp"])
			assert.Equal(t, []string{constants.SolutionFileBaseName}, req.CollectFiles)
			assert.Equal(t, 3*time.Second, req.TimeLimit)
			return &sandbox.ExecResult{
				Status: sandbox.StatusOK,
				Files:  map[string][]byte{"solution": []byte("ELF")},
			}, nil
		})

	artifact, err := NewCompiler(runner, 3*time.Second).Build(context.Background(), BuildRequest{
		ID:              "9",
		LanguageType:    languages.CPP,
		LanguageVersion: "17",
		Source:          []byte("int main(){}"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"./solution"}, artifact.RunCmd)
	assert.Equal(t, map[string][]byte{"solution": []byte("ELF")}, artifact.Files)
	assert.Contains(t, artifact.Image, "runtime-cpp")
}

func TestBuild_ScriptingLanguageSkipsCompilation(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	artifact, err := NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID:              "9",
		LanguageType:    languages.PYTHON,
		LanguageVersion: "3",
		Source:          []byte("print(5)"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "solution.py"}, artifact.RunCmd)
	assert.Equal(t, []byte("print(5)"), artifact.Files["solution.py"])
}

func TestBuild_CompileFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	longLog := strings.Repeat("e", constants.CompileErrorLogLimitBytes+100)
	runner.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&sandbox.ExecResult{
		Status:   sandbox.StatusRuntimeError,
		ExitCode: 1,
		Stderr:   []byte(longLog),
	}, nil)

	_, err := NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID:              "9",
		LanguageType:    languages.C,
		LanguageVersion: "11",
		Source:          []byte("int main( {"),
	})
	require.ErrorIs(t, err, pkgErr.ErrCompilationFailed)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Len(t, compileErr.Log, constants.CompileErrorLogLimitBytes)
}

func TestBuild_CompilerTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(&sandbox.ExecResult{Status: sandbox.StatusTimeLimitExceeded}, nil)

	_, err := NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID: "9", LanguageType: languages.CPP, LanguageVersion: "20", Source: []byte("x"),
	})
	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Contains(t, compileErr.Log, "exceeded")
}

func TestBuild_InternalErrorIsPropagated(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	internal := errors.Join(pkgErr.ErrSandboxInternal, errors.New("disk full"))
	runner.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, internal)

	_, err := NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID: "9", LanguageType: languages.CPP, LanguageVersion: "17", Source: []byte("x"),
	})
	assert.ErrorIs(t, err, pkgErr.ErrSandboxInternal)
	assert.NotErrorIs(t, err, pkgErr.ErrCompilationFailed)
}

func TestBuild_InvalidLanguage(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	_, err := NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID: "9", LanguageType: languages.LanguageType(99), Source: []byte("x"),
	})
	assert.ErrorIs(t, err, pkgErr.ErrInvalidLanguageType)

	_, err = NewCompiler(runner, time.Second).Build(context.Background(), BuildRequest{
		ID: "9", LanguageType: languages.CPP, LanguageVersion: "98", Source: []byte("x"),
	})
	assert.ErrorIs(t, err, pkgErr.ErrInvalidVersion)
}
