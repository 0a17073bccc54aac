package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/constants"
	"go.uber.org/zap"
)

type Config struct {
	RabbitMQURL       string
	PublishChanSize   int
	StorageBaseUrl    string
	ConsumeQueueName  string
	ResponseQueueName string
	MaxWorkers        int

	SandboxBackend   string
	SandboxWorkRoot  string
	EnableNamespaces bool
	CompileTimeLimit time.Duration
	CompareMode      string

	SandboxUIDBase        int
	SandboxUIDCount       int
	SandboxAllowSharedUID bool
	// Empty disables cgroup limits for the process backend.
	SandboxCgroupRoot string

	LeaseBackend string
	RedisAddr    string
	LeaseTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Empty disables the Postgres result sink.
	DatabaseURL string
}

func NewConfig() *Config {
	logger := logger.NewNamedLogger("config")

	_, err := os.Stat(".env")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("failed to stat .env file with error: %v", err)
		}
	} else {
		if os.Getenv("ENV") == "PROD" {
			logger.Warn(".env file detected in production environment. This is not recommended.")
		}
		err = godotenv.Load(".env")
		if err != nil {
			logger.Fatalf("failed to load .env file with error: %v", err)
		}
	}

	rabbitmqURL, publishChanSize := rabbitmqConfig(logger)
	consumeQueue, responseQueue, maxWorkers := workerConfig(logger)
	backend, workRoot, namespaces, compileLimit, compareMode := sandboxConfig(logger)
	uidBase, uidCount, sharedUID, cgroupRoot := isolationConfig(logger)
	leaseBackend, redisAddr, leaseTTL, maxRetries, retryBackoff := schedulerConfig(logger)

	return &Config{
		RabbitMQURL:           rabbitmqURL,
		PublishChanSize:       publishChanSize,
		StorageBaseUrl:        storageConfig(logger),
		ConsumeQueueName:      consumeQueue,
		ResponseQueueName:     responseQueue,
		MaxWorkers:            maxWorkers,
		SandboxBackend:        backend,
		SandboxWorkRoot:       workRoot,
		EnableNamespaces:      namespaces,
		CompileTimeLimit:      compileLimit,
		CompareMode:           compareMode,
		SandboxUIDBase:        uidBase,
		SandboxUIDCount:       uidCount,
		SandboxAllowSharedUID: sharedUID,
		SandboxCgroupRoot:     cgroupRoot,
		LeaseBackend:          leaseBackend,
		RedisAddr:             redisAddr,
		LeaseTTL:              leaseTTL,
		MaxRetries:            maxRetries,
		RetryBackoff:          retryBackoff,
		DatabaseURL:           os.Getenv("DATABASE_URL"),
	}
}

func stringEnv(logger *zap.SugaredLogger, key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		logger.Warnf("%s is not set, using default value %s", key, def)
		return def
	}
	return value
}

func intEnv(logger *zap.SugaredLogger, key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		logger.Warnf("%s is not set, using default value %d", key, def)
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		logger.Fatalf("failed to parse %s with error: %v", key, err)
	}
	return value
}

func millisEnv(logger *zap.SugaredLogger, key string, def int) time.Duration {
	return time.Duration(intEnv(logger, key, def)) * time.Millisecond
}

func boolEnv(logger *zap.SugaredLogger, key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Fatalf("failed to parse %s with error: %v", key, err)
	}
	return value
}

func rabbitmqConfig(logger *zap.SugaredLogger) (string, int) {
	host := stringEnv(logger, "RABBITMQ_HOST", constants.DefaultRabbitmqHost)
	portStr := stringEnv(logger, "RABBITMQ_PORT", constants.DefaultRabbitmqPort)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		logger.Fatalf("failed to parse RABBITMQ_PORT with error: %v", err)
	}
	user := stringEnv(logger, "RABBITMQ_USER", constants.DefaultRabbitmqUser)
	password := os.Getenv("RABBITMQ_PASSWORD")
	if password == "" {
		password = constants.DefaultRabbitmqPassword
		logger.Warn("RABBITMQ_PASSWORD is not set, using default value")
	}
	publishChanSize := intEnv(logger, "RABBITMQ_PUBLISH_CHAN_SIZE", constants.DefaultRabbitmqPublishChanSize)

	return fmt.Sprintf("amqp://%s:%s@%s:%d/", user, password, host, port), publishChanSize
}

func storageConfig(logger *zap.SugaredLogger) string {
	host := stringEnv(logger, "STORAGE_HOST", constants.DefaultStorageHost)
	portStr := stringEnv(logger, "STORAGE_PORT", constants.DefaultStoragePort)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		logger.Fatalf("failed to parse STORAGE_PORT with error: %v", err)
	}

	return fmt.Sprintf("http://%s:%d", host, port)
}

func workerConfig(logger *zap.SugaredLogger) (string, string, int) {
	consumeQueue := stringEnv(logger, "WORKER_QUEUE_NAME", constants.DefaultWorkerQueueName)
	responseQueue := stringEnv(logger, "RESPONSE_QUEUE_NAME", constants.DefaultResponseQueueName)
	maxWorkers := intEnv(logger, "MAX_WORKERS", constants.DefaultMaxWorkers)
	if maxWorkers < 1 {
		logger.Fatalf("MAX_WORKERS must be at least 1, got %d", maxWorkers)
	}

	return consumeQueue, responseQueue, maxWorkers
}

func sandboxConfig(logger *zap.SugaredLogger) (string, string, bool, time.Duration, string) {
	backend := strings.ToLower(stringEnv(logger, "SANDBOX_BACKEND", constants.DefaultSandboxBackend))
	workRoot := stringEnv(logger, "SANDBOX_WORK_ROOT", constants.DefaultSandboxWorkRoot)
	namespaces := boolEnv(logger, "SANDBOX_NAMESPACES", false)
	compileLimit := millisEnv(logger, "COMPILE_TIME_LIMIT_MS", constants.DefaultCompileTimeLimitMs)
	compareMode := strings.ToLower(stringEnv(logger, "COMPARE_MODE", constants.DefaultCompareMode))

	return backend, workRoot, namespaces, compileLimit, compareMode
}

func isolationConfig(logger *zap.SugaredLogger) (int, int, bool, string) {
	uidBase := intEnv(logger, "SANDBOX_UID_BASE", constants.DefaultRunUIDBase)
	uidCount := intEnv(logger, "SANDBOX_UID_COUNT", constants.DefaultRunUIDCount)
	if uidBase < 1 || uidCount < 1 {
		logger.Fatalf("SANDBOX_UID_BASE and SANDBOX_UID_COUNT must be positive, got %d and %d", uidBase, uidCount)
	}
	sharedUID := boolEnv(logger, "SANDBOX_ALLOW_SHARED_UID", false)
	cgroupRoot := stringEnv(logger, "SANDBOX_CGROUP_ROOT", constants.DefaultCgroupRoot)
	if strings.EqualFold(cgroupRoot, "off") {
		cgroupRoot = ""
	}

	return uidBase, uidCount, sharedUID, cgroupRoot
}

func schedulerConfig(logger *zap.SugaredLogger) (string, string, time.Duration, int, time.Duration) {
	leaseBackend := strings.ToLower(stringEnv(logger, "LEASE_BACKEND", constants.DefaultLeaseBackend))
	redisAddr := stringEnv(logger, "REDIS_ADDR", constants.DefaultRedisAddr)
	leaseTTL := millisEnv(logger, "LEASE_TTL_MS", constants.DefaultLeaseTTLMs)
	maxRetries := intEnv(logger, "MAX_RETRIES", constants.DefaultMaxRetries)
	retryBackoff := millisEnv(logger, "RETRY_BACKOFF_MS", constants.DefaultRetryBackoffMs)

	return leaseBackend, redisAddr, leaseTTL, maxRetries, retryBackoff
}
