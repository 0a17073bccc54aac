package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeKey   = "time"
	levelKey  = "level"
	sourceKey = "source"
	msgKey    = "msg"

	defaultLogDir  = "logs"
	logFileName    = "grader.log"
	maxLogSizeMB   = 50
	maxLogBackups  = 10
	maxLogAgeDays  = 28
	envLogDir      = "LOG_DIR"
	envLogLevel    = "LOG_LEVEL"
	envLogToStdout = "LOG_STDOUT"
)

var (
	sugarLogger *zap.SugaredLogger
	initOnce    sync.Once
)

// logLevel reads LOG_LEVEL, falling back to info on empty or unknown values.
func logLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(os.Getenv(envLogLevel))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func logPath() string {
	logDir := os.Getenv(envLogDir)
	if logDir == "" {
		logDir = defaultLogDir
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return logFileName
	}
	return filepath.Join(logDir, logFileName)
}

func initializeLogger() {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        timeKey,
		LevelKey:       levelKey,
		NameKey:        sourceKey,
		MessageKey:     msgKey,
		CallerKey:      "caller",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	level := logLevel()

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath(),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
		LocalTime:  true,
	})

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level),
	}
	if os.Getenv(envLogToStdout) != "false" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	sugarLogger = log.Sugar()
}

// InitializeLogger builds the process-wide logger. Calling it is optional; the
// first NewNamedLogger call does the same.
func InitializeLogger() {
	initOnce.Do(initializeLogger)
}

// NewNamedLogger creates a new named SugaredLogger for a given component.
func NewNamedLogger(name string) *zap.SugaredLogger {
	InitializeLogger()
	return sugarLogger.Named(name)
}

// Sync flushes buffered log entries. Call it before the process exits.
func Sync() {
	if sugarLogger != nil {
		_ = sugarLogger.Sync()
	}
}
