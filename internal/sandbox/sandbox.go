// Package sandbox runs one program with bounded time, memory and output, isolated
// from the host and from other executions.
package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
)

//go:generate mockgen -destination=../../tests/mocks/mock_runner.go -package=mocks . Runner

var nameRegex = regexp.MustCompile("[^a-zA-Z0-9_.-]")

type Status int

const (
	StatusOK Status = iota + 1
	// Wall-clock, CPU or memory ceiling was hit and the program was killed.
	StatusTimeLimitExceeded
	// Non-zero exit, crash or signal.
	StatusRuntimeError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeLimitExceeded:
		return "time_limit_exceeded"
	case StatusRuntimeError:
		return "runtime_error"
	default:
		return "unknown"
	}
}

// ExecRequest describes a single execution. Files are written into a fresh
// scratch area that becomes the working directory of Cmd.
type ExecRequest struct {
	ID            string
	Image         string
	Files         map[string][]byte
	Cmd           []string
	Stdin         []byte
	TimeLimit     time.Duration
	MemoryLimitKB int64
	// Files to read back from the scratch area after the run, missing ones are skipped.
	CollectFiles []string
}

type ExecResult struct {
	Status         Status
	Stdout         []byte
	Stderr         []byte
	ExitCode       int
	Elapsed        time.Duration
	MemoryExceeded bool
	Files          map[string][]byte
}

func (r *ExecResult) OK() bool {
	return r.Status == StatusOK
}

// Runner executes a request. Submission-caused failures are reported through
// ExecResult.Status; the returned error is reserved for failures of the sandbox
// itself and always wraps errors.ErrSandboxInternal (or the context error).
type Runner interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// Artifact is a built program ready to be executed.
type Artifact struct {
	Image  string
	Files  map[string][]byte
	RunCmd []string
}

type Limits struct {
	Time     time.Duration
	MemoryKB int64
}

// Execute runs artifact with the given stdin under limits.
func Execute(
	ctx context.Context,
	runner Runner,
	id string,
	artifact *Artifact,
	input []byte,
	limits Limits,
) (*ExecResult, error) {
	if limits.Time <= 0 {
		return nil, errors.ErrInvalidTimeLimit
	}
	if artifact == nil || len(artifact.RunCmd) == 0 {
		return nil, errors.ErrEmptyCommand
	}

	return runner.Execute(ctx, ExecRequest{
		ID:            id,
		Image:         artifact.Image,
		Files:         artifact.Files,
		Cmd:           artifact.RunCmd,
		Stdin:         input,
		TimeLimit:     limits.Time,
		MemoryLimitKB: limits.MemoryKB,
	})
}

func (req *ExecRequest) Validate() error {
	if len(req.Cmd) == 0 {
		return errors.ErrEmptyCommand
	}
	if req.TimeLimit <= 0 {
		return errors.ErrInvalidTimeLimit
	}
	return nil
}

// SanitizeName turns an arbitrary id into something usable as a directory or
// container name.
func SanitizeName(raw string) string {
	cleaned := nameRegex.ReplaceAllString(raw, "-")
	if cleaned == "" {
		cleaned = "untitled"
	}
	return "submission-" + cleaned
}

func internalError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrSandboxInternal, fmt.Sprintf(format, args...))
}

// memoryCeilingKB leaves headroom for interpreter and libc mappings on top of
// the memory the program itself is allowed.
func memoryCeilingKB(memoryKB int64) int64 {
	headroom := memoryKB / 5
	if headroom < constants.MinContainerMemoryKB {
		headroom = constants.MinContainerMemoryKB
	}
	return memoryKB + headroom
}

func killGrace() time.Duration {
	return constants.KillGraceMs * time.Millisecond
}
