package sandbox_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/grader/internal/sandbox"
	pkgerrors "github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/tests/mocks"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"abc123", "submission-abc123"},
		{"A.B-C_D", "submission-A.B-C_D"},
		{"42", "submission-42"},
		{"", "submission-untitled"},
		{"bad name!", "submission-bad-name-"},
		{"../../etc", "submission-..-..-etc"},
	}

	for _, c := range cases {
		if got := sandbox.SanitizeName(c.in); got != c.out {
			t.Fatalf("SanitizeName(%q) = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestExecute_ValidatesLimitsBeforeRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	artifact := &sandbox.Artifact{RunCmd: []string{"./solution"}}

	_, err := sandbox.Execute(context.Background(), runner, "1", artifact, nil, sandbox.Limits{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidTimeLimit)

	_, err = sandbox.Execute(context.Background(), runner, "1", &sandbox.Artifact{}, nil, sandbox.Limits{Time: time.Second})
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyCommand)
}

func TestExecute_BuildsRequestFromArtifact(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	artifact := &sandbox.Artifact{
		Image:  "runtime:latest",
		Files:  map[string][]byte{"solution": []byte("bin")},
		RunCmd: []string{"./solution"},
	}

	runner.EXPECT().Execute(gomock.Any(), sandbox.ExecRequest{
		ID:            "7-0",
		Image:         "runtime:latest",
		Files:         artifact.Files,
		Cmd:           []string{"./solution"},
		Stdin:         []byte("2 3"),
		TimeLimit:     time.Second,
		MemoryLimitKB: 1024,
	}).Return(&sandbox.ExecResult{Status: sandbox.StatusOK, Stdout: []byte("5\n")}, nil)

	res, err := sandbox.Execute(context.Background(), runner, "7-0", artifact, []byte("2 3"),
		sandbox.Limits{Time: time.Second, MemoryKB: 1024})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestScratch_Lifecycle(t *testing.T) {
	root := t.TempDir()
	scratch, err := sandbox.AcquireScratch(root, "sub/1")
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(scratch.Dir))
	dirInfo, err := os.Stat(scratch.Dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	require.NoError(t, scratch.WriteFiles(map[string][]byte{"a": []byte("hello")}))
	require.NoError(t, scratch.Chown(os.Getuid(), os.Getgid()))
	info, err := os.Stat(filepath.Join(scratch.Dir, "a"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	content, err := scratch.ReadLimited("a", 3)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(content))

	assert.Equal(t, map[string][]byte{"a": []byte("hello")}, scratch.Collect([]string{"a", "b"}, 10))

	outside := filepath.Join(t.TempDir(), "outside")
	require.NoError(t, os.WriteFile(outside, []byte("host file"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(scratch.Dir, "link")))
	_, err = scratch.ReadLimited("link", 100)
	assert.Error(t, err)
	assert.Empty(t, scratch.Collect([]string{"link"}, 100))

	for _, bad := range []string{"", ".", "..", "../escape", "dir/file"} {
		_, err := scratch.Path(bad)
		assert.Error(t, err, bad)
	}

	require.NoError(t, scratch.Release())
	require.NoError(t, scratch.Release())
	_, err = os.Stat(scratch.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireScratch_FailureIsInternal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := sandbox.AcquireScratch(file, "x")
	assert.ErrorIs(t, err, pkgerrors.ErrSandboxInternal)
	assert.ErrorIs(t, err, pkgerrors.ErrScratchAllocation)
}
