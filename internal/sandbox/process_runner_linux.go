//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Messages runtimes print when an allocation hits the address space limit.
var allocationFailureMarkers = [][]byte{
	[]byte("MemoryError"),
	[]byte("std::bad_alloc"),
	[]byte("Cannot allocate memory"),
	[]byte("out of memory"),
}

// ProcessConfig configures the host process backend.
type ProcessConfig struct {
	WorkRoot         string
	EnableNamespaces bool
	MaxOutputBytes   int64
	// Host uids handed out one per concurrent execution.
	RunUIDBase  int
	RunUIDCount int
	// cgroup v2 directory for per-execution memory and pids limits. Empty
	// disables cgroups and memory is bounded by RLIMIT_AS only.
	CgroupRoot string
	// Allows a grader without root to run every execution under its own uid.
	// Executions are then not isolated from each other.
	AllowSharedUID bool
}

type processRunner struct {
	cfg ProcessConfig
	// Nil when executions share the grader's uid.
	uids    *uidPool
	cgroups bool
	logger  *zap.SugaredLogger
}

// NewProcessRunner creates a runner that executes programs as host processes in
// their own process group, optionally inside fresh user/pid/net/ipc/uts/mount
// namespaces. Each execution runs under a uid of its own, which requires root.
func NewProcessRunner(cfg ProcessConfig) (Runner, error) {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = constants.DefaultSandboxWorkRoot
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = constants.MaxOutputBytes
	}
	if cfg.RunUIDBase <= 0 {
		cfg.RunUIDBase = constants.DefaultRunUIDBase
	}
	if cfg.RunUIDCount <= 0 {
		cfg.RunUIDCount = constants.DefaultRunUIDCount
	}
	r := &processRunner{cfg: cfg, logger: logger.NewNamedLogger("process-sandbox")}

	if os.Geteuid() == 0 {
		r.uids = newUIDPool(cfg.RunUIDBase, cfg.RunUIDCount)
	} else if !cfg.AllowSharedUID {
		return nil, errors.ErrSandboxIsolationUnavailable
	} else {
		r.logger.Warn("Grader is not root, all executions share its uid and can reach each other's files")
	}

	if err := os.MkdirAll(cfg.WorkRoot, 0o711); err != nil {
		return nil, fmt.Errorf("create sandbox work root: %w", err)
	}
	if r.uids != nil {
		// Run uids may traverse the work root but not list it.
		if err := os.Chmod(cfg.WorkRoot, 0o711); err != nil {
			return nil, fmt.Errorf("chmod sandbox work root: %w", err)
		}
	}

	if cfg.CgroupRoot != "" {
		if err := setupCgroupRoot(cfg.CgroupRoot); err != nil {
			r.logger.Warnf("Cgroup limits unavailable, memory is bounded by rlimits only: %s", err)
		} else {
			r.cgroups = true
		}
	}
	return r, nil
}

func (r *processRunner) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scratch, err := AcquireScratch(r.cfg.WorkRoot, req.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			r.logger.Errorf("Failed to release scratch area [ID: %s]: %s", req.ID, err)
		}
	}()

	uid, err := r.acquireUID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrSandboxInternal, err)
	}
	defer r.releaseUID(uid)

	if err := scratch.WriteFiles(req.Files); err != nil {
		return nil, internalError("write program files: %v", err)
	}
	if err := scratch.WriteFile(constants.StdinFileName, req.Stdin, 0o644); err != nil {
		return nil, internalError("write stdin: %v", err)
	}

	stdin, stdout, stderr, err := openStdio(scratch)
	if err != nil {
		return nil, err
	}
	defer stdin.Close()
	defer stdout.Close()
	defer stderr.Close()

	if uid >= 0 {
		if err := scratch.Chown(uid, uid); err != nil {
			return nil, internalError("hand scratch area to uid %d: %v", uid, err)
		}
	}

	var cg *runCgroup
	if r.cgroups {
		if cg, err = createRunCgroup(r.cfg.CgroupRoot, req.ID, req.MemoryLimitKB); err != nil {
			return nil, internalError("%v", err)
		}
		defer func() {
			if err := cg.remove(); err != nil {
				r.logger.Errorf("Failed to remove cgroup [ID: %s]: %s", req.ID, err)
			}
		}()
	}

	argv, err := r.limitedCommand(scratch.Dir, req, cg == nil)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = scratch.Dir
	cmd.Env = []string{
		"PATH=" + constants.SandboxPath,
		"HOME=" + scratch.Dir,
		"TMPDIR=" + scratch.Dir,
		"LANG=C.UTF-8",
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = buildSysProcAttr(r.cfg.EnableNamespaces, uid)
	if cg != nil {
		// The child enters the cgroup at clone, before it runs any code.
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = cg.fd()
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, internalError("start %q: %v", req.Cmd[0], err)
	}
	pid := cmd.Process.Pid
	defer r.reap(pid, cg, uid)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(req.TimeLimit)
	defer timer.Stop()

	timedOut := false
	select {
	case <-waitCh:
	case <-timer.C:
		timedOut = true
		killProcessGroup(pid)
		<-waitCh
	case <-ctx.Done():
		killProcessGroup(pid)
		<-waitCh
		return nil, fmt.Errorf("%w: %w", errors.ErrSandboxInternal, ctx.Err())
	}
	elapsed := time.Since(start)
	// Background children may still hold the group.
	killProcessGroup(pid)

	result := &ExecResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Elapsed:  elapsed,
	}
	if timedOut && result.Elapsed > req.TimeLimit {
		result.Elapsed = req.TimeLimit
	}

	// Read through the handles: the program may have replaced the names.
	if result.Stdout, err = readBack(stdout, r.cfg.MaxOutputBytes); err != nil {
		return nil, internalError("read stdout: %v", err)
	}
	if result.Stderr, err = readBack(stderr, constants.MaxStderrBytes); err != nil {
		return nil, internalError("read stderr: %v", err)
	}
	result.Files = scratch.Collect(req.CollectFiles, r.cfg.MaxOutputBytes)

	oomKilled := cg != nil && cg.oomKilled()
	result.Status, result.MemoryExceeded = classify(cmd.ProcessState, req, timedOut, oomKilled, cg == nil, result.Stderr)

	r.logger.Debugf("Execution finished [ID: %s, status: %s, exit: %d, elapsed: %s]",
		req.ID, result.Status, result.ExitCode, result.Elapsed)
	return result, nil
}

func (r *processRunner) acquireUID(ctx context.Context) (int, error) {
	if r.uids == nil {
		return -1, nil
	}
	return r.uids.acquire(ctx)
}

func (r *processRunner) releaseUID(uid int) {
	if r.uids == nil || uid < 0 {
		return
	}
	r.uids.release(uid)
}

// reap kills whatever the execution left behind, including processes that
// escaped the process group with setsid.
func (r *processRunner) reap(pid int, cg *runCgroup, uid int) {
	killProcessGroup(pid)
	if cg != nil {
		cg.kill()
	}
	if uid >= 0 {
		killUserProcesses(uid)
	}
}

// limitedCommand wraps the request in a shell that sets rlimits and then execs
// the program, so the limits hold from its first instruction.
func (r *processRunner) limitedCommand(dir string, req ExecRequest, limitAddressSpace bool) ([]string, error) {
	program, err := resolveProgram(dir, req.Cmd[0])
	if err != nil {
		return nil, err
	}

	cpuSeconds := int64(req.TimeLimit.Seconds()) + 1
	script := []string{
		"ulimit -c 0",
		fmt.Sprintf("ulimit -n %d", constants.MaxOpenFiles),
		fmt.Sprintf("ulimit -t %d", cpuSeconds),
		// POSIX shells count -f in 512-byte blocks.
		fmt.Sprintf("ulimit -f %d", (r.cfg.MaxOutputBytes+511)/512),
	}
	if limitAddressSpace && req.MemoryLimitKB > 0 {
		script = append(script, fmt.Sprintf("ulimit -v %d", memoryCeilingKB(req.MemoryLimitKB)))
	}
	script = append(script, `exec "$@"`)

	argv := []string{"/bin/sh", "-c", strings.Join(script, " && "), "sh", program}
	return append(argv, req.Cmd[1:]...), nil
}

// resolveProgram checks that the command exists before anything is started, so
// a missing binary is a sandbox failure rather than a runtime error of the
// submission.
func resolveProgram(dir, name string) (string, error) {
	if strings.Contains(name, "/") {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if !isExecutable(path) {
			return "", internalError("%q is not an executable file", name)
		}
		return name, nil
	}
	for _, searchDir := range filepath.SplitList(constants.SandboxPath) {
		if candidate := filepath.Join(searchDir, name); isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", internalError("%q not found in %s", name, constants.SandboxPath)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

func openStdio(scratch *Scratch) (*os.File, *os.File, *os.File, error) {
	stdinPath, _ := scratch.Path(constants.StdinFileName)
	stdoutPath, _ := scratch.Path(constants.StdoutFileName)
	stderrPath, _ := scratch.Path(constants.StderrFileName)

	stdin, err := os.Open(stdinPath)
	if err != nil {
		return nil, nil, nil, internalError("open stdin: %v", err)
	}
	stdout, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		stdin.Close()
		return nil, nil, nil, internalError("open stdout: %v", err)
	}
	stderr, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, nil, nil, internalError("open stderr: %v", err)
	}
	return stdin, stdout, stderr, nil
}

func readBack(f *os.File, limit int64) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(f, limit))
}

func classify(
	state *os.ProcessState,
	req ExecRequest,
	timedOut, oomKilled, addressSpaceLimited bool,
	stderr []byte,
) (Status, bool) {
	if oomKilled {
		return StatusTimeLimitExceeded, true
	}
	if timedOut {
		return StatusTimeLimitExceeded, false
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		switch ws.Signal() {
		case syscall.SIGXCPU:
			return StatusTimeLimitExceeded, false
		case syscall.SIGKILL:
			if cpuTime(state) >= req.TimeLimit {
				return StatusTimeLimitExceeded, false
			}
		}
	}

	if state.Success() {
		return StatusOK, false
	}

	if req.MemoryLimitKB > 0 {
		if usage, ok := state.SysUsage().(*syscall.Rusage); ok && usage.Maxrss >= req.MemoryLimitKB {
			return StatusTimeLimitExceeded, true
		}
		if addressSpaceLimited && allocationFailed(stderr) {
			return StatusTimeLimitExceeded, true
		}
	}
	return StatusRuntimeError, false
}

func allocationFailed(stderr []byte) bool {
	for _, marker := range allocationFailureMarkers {
		if bytes.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func cpuTime(state *os.ProcessState) time.Duration {
	return state.UserTime() + state.SystemTime()
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// buildSysProcAttr drops the child to uid when uid is not negative. Inside a
// user namespace the child is root of the namespace and uid outside of it.
func buildSysProcAttr(enableNamespaces bool, uid int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		if uid >= 0 {
			attr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(uid)}
		}
		return attr
	}

	hostUID, hostGID := os.Getuid(), os.Getgid()
	if uid >= 0 {
		hostUID, hostGID = uid, uid
		// Switch the kernel identity to the mapped uid and clear root's groups.
		attr.Credential = &syscall.Credential{Uid: 0, Gid: 0}
		attr.GidMappingsEnableSetgroups = true
	}
	attr.Cloneflags = syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS |
		syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET | syscall.CLONE_NEWUSER
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      hostUID,
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      hostGID,
		Size:        1,
	}}
	return attr
}
