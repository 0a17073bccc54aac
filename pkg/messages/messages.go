package messages

import (
	"encoding/json"

	"github.com/mini-maxit/grader/pkg/solution"
)

type QueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
}

type ResponseQueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Ok        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload"`
}

// FileLocation points at an object in the file storage service.
type FileLocation struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

func (f FileLocation) IsEmpty() bool {
	return f.Bucket == "" || f.Path == ""
}

// TestCase is one input / expected output pair. Content is either inline or
// referenced by a storage location; the packager resolves locations into bytes
// before the request reaches the grader.
type TestCase struct {
	Name      string        `json:"name"`
	Input     []byte        `json:"input,omitempty"`
	InputFile *FileLocation `json:"input_file,omitempty"`
	// Nil (JSON null or absent) means the expected output is missing, which is
	// different from an empty expected output.
	Expected     []byte        `json:"expected"`
	ExpectedFile *FileLocation `json:"expected_file,omitempty"`
}

func (tc TestCase) HasExpected() bool {
	return tc.Expected != nil || (tc.ExpectedFile != nil && !tc.ExpectedFile.IsEmpty())
}

// GradingRequest is the engine's inbound contract, built by the web layer from the
// submission, its question and the question's test data.
type GradingRequest struct {
	SubmissionID    string        `json:"submission_id"`
	UserID          int64         `json:"user_id"`
	QuestionCode    string        `json:"question_code"`
	LanguageType    string        `json:"language_type"`
	LanguageVersion string        `json:"language_version"`
	Source          []byte        `json:"source,omitempty"`
	SourceFile      *FileLocation `json:"source_file,omitempty"`
	// Per test case time limit.
	TimeLimitMs   int64 `json:"time_limit_ms"`
	MemoryLimitKB int64 `json:"memory_limit_kb"`
	// Optional per-question comparison mode; empty means the deployment default.
	CompareMode string     `json:"compare_mode,omitempty"`
	TestCases   []TestCase `json:"test_cases"`
	// Raw question files, paired by file name stem when TestCases is empty.
	InputFiles    []FileLocation `json:"input_files,omitempty"`
	ExpectedFiles []FileLocation `json:"expected_files,omitempty"`
}

// GradeResponsePayload is published once a grading pass completes.
type GradeResponsePayload = solution.GradingResult

type LanguageSpec struct {
	LanguageName string   `json:"name"`
	Versions     []string `json:"versions"`
	Extension    string   `json:"extension"`
}

type ResponseHandshakePayload struct {
	Languages []LanguageSpec `json:"languages"`
}

type SubmitResponsePayload struct {
	SubmissionID string `json:"submission_id"`
	Admission    string `json:"admission"`
}

type StatusResponsePayload struct {
	BusyWorkers  int            `json:"busy_workers"`
	TotalWorkers int            `json:"total_workers"`
	QueueLength  int            `json:"queue_length"`
	WorkerStatus map[int]string `json:"worker_status"`
}

// GradeFailurePayload is published when grading gave up after repeated engine
// failures. The submission stays pending and may be submitted again.
type GradeFailurePayload struct {
	SubmissionID string `json:"submission_id"`
	Verdict      string `json:"verdict"`
	Error        string `json:"error"`
}
