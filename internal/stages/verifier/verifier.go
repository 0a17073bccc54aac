package verifier

import (
	"bytes"
	"strings"

	"github.com/mini-maxit/grader/internal/sandbox"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/solution"
)

// Mode selects how actual output is compared with expected output.
type Mode string

const (
	// ModeTrailing ignores whitespace and newlines at the end of the stream only.
	ModeTrailing Mode = "trailing"
	ModeExact    Mode = "exact"
	// ModeTokens compares whitespace separated tokens.
	ModeTokens Mode = "tokens"
	// ModeLines ignores trailing whitespace on every line and trailing blank lines.
	ModeLines Mode = "lines"
)

const trailingSpace = " \t\r\n\v\f"

// ParseMode maps a configured mode name to a Mode. The empty string selects ModeTrailing.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeTrailing:
		return ModeTrailing, nil
	case ModeExact:
		return ModeExact, nil
	case ModeTokens:
		return ModeTokens, nil
	case ModeLines:
		return ModeLines, nil
	default:
		return "", errors.ErrUnknownCompareMode
	}
}

// Compare reports whether actual matches expected under mode.
func Compare(actual, expected []byte, mode Mode) bool {
	switch mode {
	case ModeExact:
		return bytes.Equal(actual, expected)
	case ModeTokens:
		return equalTokens(bytes.Fields(actual), bytes.Fields(expected))
	case ModeLines:
		return equalTokens(normalizedLines(actual), normalizedLines(expected))
	default:
		return bytes.Equal(bytes.TrimRight(actual, trailingSpace), bytes.TrimRight(expected, trailingSpace))
	}
}

func equalTokens(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func normalizedLines(data []byte) [][]byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t\r\v\f")
	}
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type Verifier interface {
	// EvaluateTestCase turns one execution into a per-case result.
	EvaluateTestCase(index int, name string, res *sandbox.ExecResult, expected []byte, mode Mode) solution.TestResult
	DefaultMode() Mode
}

type verifier struct {
	mode Mode
}

func NewVerifier(defaultMode Mode) Verifier {
	if defaultMode == "" {
		defaultMode = ModeTrailing
	}
	return &verifier{mode: defaultMode}
}

func (v *verifier) DefaultMode() Mode {
	return v.mode
}

func (v *verifier) EvaluateTestCase(
	index int,
	name string,
	res *sandbox.ExecResult,
	expected []byte,
	mode Mode,
) solution.TestResult {
	if mode == "" {
		mode = v.mode
	}
	result := solution.TestResult{
		Index:          index,
		Name:           name,
		ElapsedMs:      res.Elapsed.Milliseconds(),
		ExitCode:       res.ExitCode,
		MemoryExceeded: res.MemoryExceeded,
	}

	switch res.Status {
	case sandbox.StatusTimeLimitExceeded:
		result.Verdict = solution.TimeLimitExceeded
	case sandbox.StatusRuntimeError:
		result.Verdict = solution.RuntimeError
	default:
		if Compare(res.Stdout, expected, mode) {
			result.Verdict = solution.Accepted
		} else {
			result.Verdict = solution.WrongAnswer
		}
	}
	return result
}
