package compiler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/sandbox"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/languages"
)

//go:generate mockgen -destination=../../../tests/mocks/mock_compiler.go -package=mocks . Compiler

type BuildRequest struct {
	ID              string
	LanguageType    languages.LanguageType
	LanguageVersion string
	Source          []byte
}

// CompileError is returned when the submission itself does not build.
type CompileError struct {
	Log string
}

func (e *CompileError) Error() string {
	return errors.ErrCompilationFailed.Error()
}

func (e *CompileError) Unwrap() error {
	return errors.ErrCompilationFailed
}

type Compiler interface {
	Build(ctx context.Context, req BuildRequest) (*sandbox.Artifact, error)
}

type compiler struct {
	runner    sandbox.Runner
	timeLimit time.Duration
	logger    *zap.SugaredLogger
}

// NewCompiler creates a compiler that runs build commands through runner, so the
// compiler is as isolated as the submission.
func NewCompiler(runner sandbox.Runner, timeLimit time.Duration) Compiler {
	if timeLimit <= 0 {
		timeLimit = time.Duration(constants.DefaultCompileTimeLimitMs) * time.Millisecond
	}
	return &compiler{
		runner:    runner,
		timeLimit: timeLimit,
		logger:    logger.NewNamedLogger("compiler"),
	}
}

func (c *compiler) Build(ctx context.Context, req BuildRequest) (*sandbox.Artifact, error) {
	image, err := req.LanguageType.GetDockerImage(req.LanguageVersion)
	if err != nil {
		return nil, err
	}
	srcName, err := req.LanguageType.SourceFileName()
	if err != nil {
		return nil, err
	}
	runCmd, err := req.LanguageType.GetRunCommand(req.LanguageVersion)
	if err != nil {
		return nil, err
	}
	compileCmd, err := req.LanguageType.GetCompileCommand(req.LanguageVersion)
	if err != nil {
		return nil, err
	}

	if len(compileCmd) == 0 {
		return &sandbox.Artifact{
			Image:  image,
			Files:  map[string][]byte{srcName: req.Source},
			RunCmd: runCmd,
		}, nil
	}

	c.logger.Infof("Compiling %s solution [ID: %s]", req.LanguageType, req.ID)
	res, err := c.runner.Execute(ctx, sandbox.ExecRequest{
		ID:            req.ID + "-compile",
		Image:         image,
		Files:         map[string][]byte{srcName: req.Source},
		Cmd:           compileCmd,
		TimeLimit:     c.timeLimit,
		MemoryLimitKB: constants.CompileMemoryLimitKB,
		CollectFiles:  []string{constants.SolutionFileBaseName},
	})
	if err != nil {
		return nil, err
	}

	binary, built := res.Files[constants.SolutionFileBaseName]
	switch {
	case res.Status == sandbox.StatusTimeLimitExceeded:
		return nil, &CompileError{Log: fmt.Sprintf("compilation exceeded %s", c.timeLimit)}
	case !res.OK() || !built:
		c.logger.Infof("Compilation failed [ID: %s, exit: %d]", req.ID, res.ExitCode)
		return nil, &CompileError{Log: compileLog(res)}
	}

	return &sandbox.Artifact{
		Image:  image,
		Files:  map[string][]byte{constants.SolutionFileBaseName: binary},
		RunCmd: runCmd,
	}, nil
}

func compileLog(res *sandbox.ExecResult) string {
	log := strings.TrimSpace(string(res.Stderr) + string(res.Stdout))
	if log == "" {
		log = fmt.Sprintf("compiler exited with code %d", res.ExitCode)
	}
	if len(log) > constants.CompileErrorLogLimitBytes {
		log = log[:constants.CompileErrorLogLimitBytes]
	}
	return log
}
