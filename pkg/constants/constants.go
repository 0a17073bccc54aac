package constants

// Queue message types.
const (
	QueueMessageTypeGrade     = "grade"
	QueueMessageTypeHandshake = "handshake"
	QueueMessageTypeStatus    = "status"
)

// GradingResult messages.
const (
	SolutionMessageAccepted           = "all test cases passed"
	SolutionMessageWrongAnswer        = "output difference"
	SolutionMessageTimeout            = "time limit exceeded"
	SolutionMessageMemoryLimit        = "memory limit exceeded"
	SolutionMessageRuntimeError       = "solution returned non-zero exit code"
	SolutionMessageCompilationError   = "compilation error occurred"
	SolutionMessageNoTestCases        = "question has no test cases"
	SolutionMessageMissingExpected    = "test case has no expected output"
	SolutionMessageUnpairedTestData   = "test inputs and expected outputs do not pair up"
	SolutionMessageInvalidLanguage    = "invalid language type supplied"
	SolutionMessageInvalidTimeLimit   = "question time limit must be positive"
	SolutionMessageInternalError      = "internal error occurred"
	SolutionMessageRetriesExhausted   = "grading failed after retries"
	TestCaseMessageFailed             = "test case %d: %s"
	TestCaseMessageRuntimeWithExit    = "test case %d: solution exited with code %d"
	CompileErrorLogLimitBytes         = 4 * 1024
	ConfigurationErrorMessageTemplate = "configuration error: %s"
)

// Worker specific constants.
type WorkerStatus int

const (
	WorkerStatusIdle WorkerStatus = iota
	WorkerStatusBusy
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerStatusIdle:
		return "idle"
	case WorkerStatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Configuration constants.
const (
	DefaultRabbitmqHost            = "localhost"
	DefaultRabbitmqUser            = "guest"
	DefaultRabbitmqPassword        = "guest"
	DefaultRabbitmqPort            = "5672"
	DefaultStorageHost             = "file-storage"
	DefaultStoragePort             = "8888"
	DefaultWorkerQueueName         = "worker_queue"
	DefaultResponseQueueName       = "worker_response_queue"
	DefaultRabbitmqPublishChanSize = 100
	DefaultMaxWorkers              = 4
	DefaultSandboxBackend          = "process"
	DefaultSandboxWorkRoot         = "/tmp/grader"
	DefaultCompareMode             = "trailing"
	DefaultCompileTimeLimitMs      = 10_000
	DefaultLeaseBackend            = "memory"
	DefaultRedisAddr               = "localhost:6379"
	DefaultLeaseTTLMs              = 30_000
	DefaultMaxRetries              = 3
	DefaultRetryBackoffMs          = 500
	MaxRetryBackoffMs              = 30_000
	DefaultMemoryLimitKB           = 256 * 1024
	CompileMemoryLimitKB           = 1024 * 1024
	RuntimeImagePrefix             = "ghcr.io/mini-maxit/runtime"
)

// Sandbox constants.
const (
	StdinFileName         = ".stdin"
	StdoutFileName        = ".stdout"
	StderrFileName        = ".stderr"
	SolutionFileBaseName  = "solution"
	KillGraceMs           = 500
	MaxOpenFiles          = 64
	MaxProcesses          = 16
	MinContainerMemoryKB  = 64 * 1024
	ContainerWorkDir      = "/home/runner/work"
	RunnerName            = "runner"
	SandboxPath           = "/usr/local/bin:/usr/bin:/bin"
	DefaultRunUIDBase     = 61000
	DefaultRunUIDCount    = 64
	DefaultCgroupRoot     = "/sys/fs/cgroup/grader"
	CgroupRemoveRetries   = 20
	CgroupRemoveBackoffMs = 5
)

// Captured stream caps.
const (
	MaxOutputBytes int64 = 16 * 1024 * 1024
	MaxStderrBytes int64 = 64 * 1024
)

// Lease constants.
const (
	LeaseKeyPrefix = "grader:lease:"
)

// Storage cache configuration.
const (
	CacheDirPath      = "/tmp/grader-cache"
	CacheTTLHours     = 24
	CacheMetadataFile = ".cache_meta.json"
	CacheMaxEntries   = 512
	StorageTimeoutSec = 10
)

// RabbitMQ specific constants.
const (
	RabbitMQReconnectTries = 10
	RabbitMQPrefetchCount  = 2
)
