//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// uidPool hands out host uids so that concurrent executions never share an
// identity. A uid goes back to the pool only after its processes were killed.
type uidPool struct {
	free chan int
}

func newUIDPool(base, count int) *uidPool {
	p := &uidPool{free: make(chan int, count)}
	for i := 0; i < count; i++ {
		p.free <- base + i
	}
	return p
}

func (p *uidPool) acquire(ctx context.Context) (int, error) {
	select {
	case uid := <-p.free:
		return uid, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *uidPool) release(uid int) {
	p.free <- uid
}

// killUserProcesses kills every process whose real, effective or saved uid is
// uid. It repeats while new processes keep showing up, which covers forks racing
// the scan.
func killUserProcesses(uid int) {
	const maxRounds = 10
	for range maxRounds {
		if killed := signalUser(uid); killed == 0 {
			return
		}
	}
}

func signalUser(uid int) int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0
	}
	killed := 0
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == os.Getpid() {
			continue
		}
		if ownedBy(pid, uid) {
			if unix.Kill(pid, unix.SIGKILL) == nil {
				killed++
			}
		}
	}
	return killed
}

// ownedBy reads /proc/<pid>/status and ignores zombies. Directory ownership is
// not used because non-dumpable processes show up as root there.
func ownedBy(pid, uid int) bool {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if state, ok := strings.CutPrefix(line, "State:"); ok {
			state = strings.TrimSpace(state)
			if strings.HasPrefix(state, "Z") || strings.HasPrefix(state, "X") {
				return false
			}
			continue
		}
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Uid:"))
		for _, field := range fields[:min(3, len(fields))] {
			if id, err := strconv.Atoi(field); err == nil && id == uid {
				return true
			}
		}
		return false
	}
	return false
}
