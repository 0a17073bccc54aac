//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mini-maxit/grader/pkg/constants"
)

// runCgroup is the cgroup v2 leaf one execution is cloned into.
type runCgroup struct {
	path string
	dir  *os.File
}

// setupCgroupRoot prepares root as a parent for per-execution cgroups with the
// memory and pids controllers delegated to its children.
func setupCgroupRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create cgroup root: %w", err)
	}
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err != nil {
		return fmt.Errorf("%s is not a cgroup v2 directory: %w", root, err)
	}
	if err := writeCgroupValue(root, "cgroup.subtree_control", "+memory +pids"); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(root, "cgroup.subtree_control"))
	if err != nil {
		return fmt.Errorf("read cgroup.subtree_control: %w", err)
	}
	enabled := strings.Fields(string(data))
	for _, controller := range []string{"memory", "pids"} {
		if !slices.Contains(enabled, controller) {
			return fmt.Errorf("cgroup controller %s is not available under %s", controller, root)
		}
	}
	return nil
}

func createRunCgroup(root, id string, memoryKB int64) (*runCgroup, error) {
	path := filepath.Join(root, fmt.Sprintf("%s-%d", SanitizeName(id), time.Now().UnixNano()))
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}
	cg := &runCgroup{path: path}

	if err := writeCgroupValue(path, "pids.max", strconv.Itoa(constants.MaxProcesses)); err != nil {
		_ = cg.remove()
		return nil, err
	}
	if memoryKB > 0 {
		if err := writeCgroupValue(path, "memory.max", strconv.FormatInt(memoryCeilingKB(memoryKB)*1024, 10)); err != nil {
			_ = cg.remove()
			return nil, err
		}
		// Absent when swap accounting is off.
		_ = writeCgroupValue(path, "memory.swap.max", "0")
	}

	dir, err := os.Open(path)
	if err != nil {
		_ = cg.remove()
		return nil, fmt.Errorf("open cgroup: %w", err)
	}
	cg.dir = dir
	return cg, nil
}

func (cg *runCgroup) fd() int {
	return int(cg.dir.Fd())
}

func (cg *runCgroup) oomKilled() bool {
	data, err := os.ReadFile(filepath.Join(cg.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		count, _ := strconv.ParseInt(fields[1], 10, 64)
		return count > 0
	}
	return false
}

// kill terminates every process left in the cgroup.
func (cg *runCgroup) kill() {
	if err := writeCgroupValue(cg.path, "cgroup.kill", "1"); err == nil {
		return
	}
	// cgroup.kill needs linux 5.14.
	data, err := os.ReadFile(filepath.Join(cg.path, "cgroup.procs"))
	if err != nil {
		return
	}
	for _, field := range strings.Fields(string(data)) {
		if pid, err := strconv.Atoi(field); err == nil {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	}
}

// remove deletes the cgroup once its killed processes are reaped by the kernel.
func (cg *runCgroup) remove() error {
	if cg.dir != nil {
		_ = cg.dir.Close()
		cg.dir = nil
	}
	var err error
	for range constants.CgroupRemoveRetries {
		if err = os.Remove(cg.path); err == nil || os.IsNotExist(err) {
			return nil
		}
		cg.kill()
		time.Sleep(constants.CgroupRemoveBackoffMs * time.Millisecond)
	}
	return fmt.Errorf("remove cgroup %s: %w", cg.path, err)
}

// writeCgroupValue never creates files, so a wrong root fails instead of
// littering a regular directory.
func writeCgroupValue(cgroupPath, name, value string) error {
	f, err := os.OpenFile(filepath.Join(cgroupPath, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
