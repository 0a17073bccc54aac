package errors

import "errors"

// Error messages.
var (
	ErrInvalidLanguageType         = errors.New("invalid language type")
	ErrInvalidVersion              = errors.New("invalid version supplied")
	ErrUnknownMessageType          = errors.New("unknown message type")
	ErrInvalidTimeLimit            = errors.New("time limit must be positive")
	ErrEmptyCommand                = errors.New("command is required")
	ErrSandboxInternal             = errors.New("sandbox internal failure")
	ErrScratchAllocation           = errors.New("failed to allocate scratch area")
	ErrUnsupportedPlatform         = errors.New("process sandbox is not supported on this platform")
	ErrSandboxIsolationUnavailable = errors.New("process sandbox needs root to run executions under separate uids")
	ErrContainerTimeout            = errors.New("container exceeded its deadline")
	ErrCompilationFailed           = errors.New("compilation failed")
	ErrConfiguration               = errors.New("invalid grading configuration")
	ErrSubmissionIDRequired        = errors.New("submission id is required")
	ErrSchedulerClosed             = errors.New("scheduler is shut down")
	ErrInvalidTransition           = errors.New("invalid submission state transition")
	ErrLeaseNotHeld                = errors.New("lease is not held by this worker")
	ErrLeaseLost                   = errors.New("lease expired while grading")
	ErrFailedToStoreResult         = errors.New("failed to store grading result")
	ErrStorage                     = errors.New("file storage failure")
	ErrFileLocationEmpty           = errors.New("file location is empty")
	ErrSubmissionNotFound          = errors.New("submission not found")
	ErrUnknownSandboxBackend       = errors.New("unknown sandbox backend")
	ErrUnknownLeaseBackend         = errors.New("unknown lease backend")
	ErrUnknownCompareMode          = errors.New("unknown compare mode")
	ErrInvalidQueueMessagePayload  = errors.New("invalid queue message payload")
	ErrResponderClosed             = errors.New("responder is closed")
	ErrDeliveryChannelClosed       = errors.New("delivery channel closed by broker")
)

// ConfigurationError reports malformed or missing test data. It never carries host paths.
type ConfigurationError struct {
	Reason string
}

func NewConfigurationError(reason string) error {
	return &ConfigurationError{Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return ErrConfiguration.Error() + ": " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}
