package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mini-maxit/grader/pkg/errors"
)

// Scratch is a working directory owned by exactly one execution.
type Scratch struct {
	Dir  string
	once sync.Once
}

// AcquireScratch creates a new, empty scratch directory under root. The
// directory is private to its owner (0700).
func AcquireScratch(root, id string) (*Scratch, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, allocationError("create work root: %v", err)
	}
	dir, err := os.MkdirTemp(root, SanitizeName(id)+"-")
	if err != nil {
		return nil, allocationError("create scratch dir: %v", err)
	}
	return &Scratch{Dir: dir}, nil
}

func allocationError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", errors.ErrSandboxInternal, errors.ErrScratchAllocation, fmt.Sprintf(format, args...))
}

// Chown hands the scratch dir and everything written into it to uid:gid.
func (s *Scratch) Chown(uid, gid int) error {
	return filepath.WalkDir(s.Dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}

// Path resolves name inside the scratch dir. Names must be plain file names.
func (s *Scratch) Path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("invalid scratch file name %q", name)
	}
	return filepath.Join(s.Dir, name), nil
}

func (s *Scratch) WriteFile(name string, content []byte, perm os.FileMode) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return err
	}
	// WriteFile honours umask; the run user needs the exact bits.
	return os.Chmod(path, perm)
}

// WriteFiles stores program files as executable so compiled binaries can run.
func (s *Scratch) WriteFiles(files map[string][]byte) error {
	for name, content := range files {
		if err := s.WriteFile(name, content, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ReadLimited reads at most limit bytes of name. Only regular files are read:
// the program owns the directory and may have swapped name for a symlink.
func (s *Scratch) ReadLimited(name string, limit int64) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	before, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !before.Mode().IsRegular() {
		return nil, fmt.Errorf("scratch file %q is not a regular file", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	opened, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !os.SameFile(before, opened) {
		return nil, fmt.Errorf("scratch file %q changed while opening", name)
	}
	return io.ReadAll(io.LimitReader(f, limit))
}

// Collect reads back the named files, skipping those the program did not create.
func (s *Scratch) Collect(names []string, limit int64) map[string][]byte {
	if len(names) == 0 {
		return nil
	}
	files := make(map[string][]byte, len(names))
	for _, name := range names {
		content, err := s.ReadLimited(name, limit)
		if err != nil {
			continue
		}
		files[name] = content
	}
	return files
}

// Release removes the scratch dir. Safe to call more than once.
func (s *Scratch) Release() error {
	var err error
	s.once.Do(func() {
		err = os.RemoveAll(s.Dir)
	})
	return err
}
