//go:build !linux

package sandbox

import "github.com/mini-maxit/grader/pkg/errors"

type ProcessConfig struct {
	WorkRoot         string
	EnableNamespaces bool
	MaxOutputBytes   int64
	RunUIDBase       int
	RunUIDCount      int
	CgroupRoot       string
	AllowSharedUID   bool
}

// NewProcessRunner is only available on linux.
func NewProcessRunner(cfg ProcessConfig) (Runner, error) {
	return nil, errors.ErrUnsupportedPlatform
}
