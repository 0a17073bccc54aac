package sandbox

import (
	"context"
	stdErrors "errors"
	"fmt"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/docker"
	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
)

const (
	containerCleanupTimeout = 10 * time.Second
	containerCopyTimeout    = 30 * time.Second
	// Redirections are done inside the container so the program sees plain files.
	stdioWrapper = `exec "$@" <` + constants.StdinFileName + ` >` + constants.StdoutFileName +
		` 2>` + constants.StderrFileName
)

type dockerRunner struct {
	docker         docker.DockerClient
	logger         *zap.SugaredLogger
	maxOutputBytes int64
}

// NewDockerRunner creates a runner that executes every request in a fresh,
// network-less container built from the request's image.
func NewDockerRunner(dCli docker.DockerClient) Runner {
	return &dockerRunner{
		docker:         dCli,
		logger:         logger.NewNamedLogger("docker-sandbox"),
		maxOutputBytes: constants.MaxOutputBytes,
	}
}

func (d *dockerRunner) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return nil, internalError("no runtime image for %s", req.ID)
	}

	if err := d.docker.EnsureImage(ctx, req.Image); err != nil {
		return nil, internalError("ensure image %s: %v", req.Image, err)
	}

	name := SanitizeName(req.ID) + "-" + uuid.NewString()[:8]
	containerID, err := d.docker.CreateContainer(ctx, buildContainerConfig(req), buildHostConfig(req.MemoryLimitKB), name)
	if err != nil {
		return nil, internalError("create container: %v", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
		defer cancel()
		if err := d.docker.ContainerRemove(cleanupCtx, containerID); err != nil {
			d.logger.Errorf("Failed to remove container %s [ID: %s]: %s", containerID, req.ID, err)
		}
	}()

	files := make(map[string][]byte, len(req.Files)+1)
	for name, content := range req.Files {
		files[name] = content
	}
	files[constants.StdinFileName] = req.Stdin
	if err := d.docker.CopyToContainer(ctx, containerID, constants.ContainerWorkDir, files); err != nil {
		return nil, internalError("copy files to container: %v", err)
	}

	start := time.Now()
	if err := d.docker.StartContainer(ctx, containerID); err != nil {
		return nil, internalError("start container: %v", err)
	}

	exitCode, waitErr := d.docker.WaitContainer(ctx, containerID, req.TimeLimit)
	elapsed := time.Since(start)
	timedOut := stdErrors.Is(waitErr, errors.ErrContainerTimeout)
	if timedOut {
		killCtx, cancel := context.WithTimeout(context.Background(), killGrace())
		if err := d.docker.ContainerKill(killCtx, containerID, "SIGKILL"); err != nil {
			d.logger.Warnf("Failed to kill container %s [ID: %s]: %s", containerID, req.ID, err)
		}
		cancel()
		elapsed = req.TimeLimit
	} else if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrSandboxInternal, ctx.Err())
		}
		return nil, internalError("wait for container: %v", waitErr)
	}

	copyCtx, copyCancel := context.WithTimeout(context.Background(), containerCopyTimeout)
	defer copyCancel()

	oomKilled, err := d.docker.ContainerOOMKilled(copyCtx, containerID)
	if err != nil {
		return nil, internalError("inspect container: %v", err)
	}

	names := append([]string{constants.StdoutFileName, constants.StderrFileName}, req.CollectFiles...)
	outputs, err := d.docker.CopyFromContainer(copyCtx, containerID, constants.ContainerWorkDir, names, d.maxOutputBytes)
	if err != nil {
		return nil, internalError("copy results from container: %v", err)
	}

	result := &ExecResult{
		ExitCode: int(exitCode),
		Elapsed:  elapsed,
		Stdout:   outputs[constants.StdoutFileName],
		Stderr:   truncate(outputs[constants.StderrFileName], constants.MaxStderrBytes),
	}
	switch {
	case timedOut:
		result.Status = StatusTimeLimitExceeded
	case oomKilled:
		result.Status = StatusTimeLimitExceeded
		result.MemoryExceeded = true
	case exitCode == 0:
		result.Status = StatusOK
	default:
		result.Status = StatusRuntimeError
	}
	if len(req.CollectFiles) > 0 {
		result.Files = make(map[string][]byte, len(req.CollectFiles))
		for _, name := range req.CollectFiles {
			if content, ok := outputs[name]; ok {
				result.Files[name] = content
			}
		}
	}

	d.logger.Debugf("Container execution finished [ID: %s, status: %s, exit: %d, elapsed: %s]",
		req.ID, result.Status, result.ExitCode, result.Elapsed)
	return result, nil
}

func buildContainerConfig(req ExecRequest) *container.Config {
	stopTimeout := 0
	cmd := append([]string{"sh", "-c", stdioWrapper, "sh"}, req.Cmd...)

	return &container.Config{
		Image:           req.Image,
		Cmd:             cmd,
		WorkingDir:      constants.ContainerWorkDir,
		Env:             []string{"PATH=" + constants.SandboxPath, "HOME=" + path.Dir(constants.ContainerWorkDir)},
		User:            constants.RunnerName,
		StopTimeout:     &stopTimeout,
		StopSignal:      "SIGKILL",
		NetworkDisabled: true,
	}
}

func buildHostConfig(memoryLimitKB int64) *container.HostConfig {
	limitKB := memoryLimitKB
	if limitKB <= 0 {
		limitKB = constants.DefaultMemoryLimitKB
	}
	containerBytes := memoryCeilingKB(limitKB) * 1024
	pids := int64(constants.MaxProcesses)

	return &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: container.NetworkMode("none"),
		Resources: container.Resources{
			Memory:     containerBytes,
			MemorySwap: containerBytes,
			PidsLimit:  &pids,
			CPUPeriod:  100_000,
			CPUQuota:   100_000,
		},
		SecurityOpt:  []string{"no-new-privileges"},
		CgroupnsMode: container.CgroupnsModePrivate,
		IpcMode:      container.IpcMode("private"),
		CapDrop:      []string{"ALL"},
	}
}

func truncate(b []byte, limit int64) []byte {
	if int64(len(b)) > limit {
		return b[:limit]
	}
	return b
}
