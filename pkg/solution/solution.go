package solution

import "time"

// Verdict is the lifecycle state of a submission. Every value except Pending and
// Running is terminal.
type Verdict string

const (
	// Means the submission waits for a worker.
	Pending Verdict = "pending"
	// Means a worker holds the submission's lease and is grading it.
	Running Verdict = "running"
	// Means every test case produced the expected output.
	Accepted Verdict = "accepted"
	// Means the output of some test case differs from the expected output.
	WrongAnswer Verdict = "wrong_answer"
	// Means the solution ran out of time (or memory) on some test case.
	TimeLimitExceeded Verdict = "time_limit_exceeded"
	// Means the solution crashed or exited with a non-zero code.
	RuntimeError Verdict = "runtime_error"
	// Means the solution failed to build.
	CompileError Verdict = "compile_error"
	// Means the question's test data is missing or malformed.
	ConfigurationError Verdict = "configuration_error"
)

var terminalVerdicts = map[Verdict]struct{}{
	Accepted:           {},
	WrongAnswer:        {},
	TimeLimitExceeded:  {},
	RuntimeError:       {},
	CompileError:       {},
	ConfigurationError: {},
}

func (v Verdict) IsTerminal() bool {
	_, ok := terminalVerdicts[v]
	return ok
}

func (v Verdict) String() string {
	return string(v)
}

// ParseVerdict accepts the persisted form of a verdict, including the two-letter
// codes stored by older submissions ("ac", "wa").
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "ac":
		return Accepted, true
	case "wa":
		return WrongAnswer, true
	}
	v := Verdict(s)
	if v == Pending || v == Running || v.IsTerminal() {
		return v, true
	}
	return "", false
}

// GradingResult is what the engine hands back for persistence.
type GradingResult struct {
	SubmissionID string  `json:"submission_id"`
	UserID       int64   `json:"user_id"`
	QuestionCode string  `json:"question_code"`
	Verdict      Verdict `json:"verdict"`
	// Sum of the execution time of every test case run, up to and including the failing one.
	ElapsedMs int64 `json:"elapsed_ms"`
	// 0-based index of the first failing test case. Nil when accepted or when the
	// failure is not tied to a test case.
	FailingCaseIndex *int         `json:"failing_case_index,omitempty"`
	Message          string       `json:"message"`
	CompileLog       string       `json:"compile_log,omitempty"`
	TestResults      []TestResult `json:"test_results"`
	GradedAt         time.Time    `json:"graded_at"`
}

type TestResult struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Verdict   Verdict `json:"verdict"`
	ElapsedMs int64   `json:"elapsed_ms"`
	ExitCode  int     `json:"exit_code"`
	// Set when the resource ceiling that was hit is memory rather than time.
	MemoryExceeded bool `json:"memory_exceeded,omitempty"`
}

// Passed reports whether the result is Accepted.
func (r *GradingResult) Passed() bool {
	return r.Verdict == Accepted
}

// FailingCase returns the failing case index, or -1 when there is none.
func (r *GradingResult) FailingCase() int {
	if r.FailingCaseIndex == nil {
		return -1
	}
	return *r.FailingCaseIndex
}

func IntPtr(v int) *int {
	return &v
}
