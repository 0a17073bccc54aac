package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	image "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	pkgerrors "github.com/mini-maxit/grader/pkg/errors"
)

//go:generate mockgen -destination=../../tests/mocks/mock_docker_client.go -package=mocks . DockerClient

type DockerClient interface {
	EnsureImage(ctx context.Context, imageName string) error
	CreateContainer(
		ctx context.Context,
		containerCfg *container.Config,
		hostCfg *container.HostConfig,
		name string,
	) (string, error)
	// CopyToContainer creates dstDir (world writable) and places files inside it.
	CopyToContainer(ctx context.Context, containerID, dstDir string, files map[string][]byte) error
	StartContainer(ctx context.Context, containerID string) error
	// WaitContainer returns ErrContainerTimeout when the container is still running after timeout.
	WaitContainer(ctx context.Context, containerID string, timeout time.Duration) (int64, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerOOMKilled(ctx context.Context, containerID string) (bool, error)
	// CopyFromContainer reads back the named files of srcDir, skipping missing ones.
	CopyFromContainer(
		ctx context.Context,
		containerID, srcDir string,
		names []string,
		maxFileSize int64,
	) (map[string][]byte, error)
	ContainerRemove(ctx context.Context, containerID string) error
}

type dockerClient struct {
	cli *client.Client
}

func NewDockerClient() (DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerClient{cli: cli}, nil
}

func (d *dockerClient) EnsureImage(ctx context.Context, imageName string) error {
	_, err := d.cli.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return err
	}

	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *dockerClient) CreateContainer(
	ctx context.Context,
	containerCfg *container.Config,
	hostCfg *container.HostConfig,
	name string,
) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerClient) CopyToContainer(
	ctx context.Context,
	containerID, dstDir string,
	files map[string][]byte,
) error {
	archive, err := buildArchive(path.Base(dstDir), files)
	if err != nil {
		return err
	}
	return d.cli.CopyToContainer(ctx, containerID, path.Dir(dstDir), archive, container.CopyToContainerOptions{})
}

func (d *dockerClient) StartContainer(ctx context.Context, containerID string) error {
	return d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (d *dockerClient) WaitContainer(
	ctx context.Context,
	containerID string,
	timeout time.Duration,
) (int64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return -1, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return -1, pkgerrors.ErrContainerTimeout
		}
		return -1, err
	case <-waitCtx.Done():
		if ctx.Err() == nil {
			return -1, pkgerrors.ErrContainerTimeout
		}
		return -1, ctx.Err()
	}
}

func (d *dockerClient) ContainerKill(ctx context.Context, containerID, signal string) error {
	return d.cli.ContainerKill(ctx, containerID, signal)
}

func (d *dockerClient) ContainerOOMKilled(ctx context.Context, containerID string) (bool, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, err
	}
	if inspect.State == nil {
		return false, nil
	}
	return inspect.State.OOMKilled, nil
}

func (d *dockerClient) CopyFromContainer(
	ctx context.Context,
	containerID, srcDir string,
	names []string,
	maxFileSize int64,
) (map[string][]byte, error) {
	files := make(map[string][]byte, len(names))
	for _, name := range names {
		reader, _, err := d.cli.CopyFromContainer(ctx, containerID, path.Join(srcDir, name))
		if err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("copy %s from container: %w", name, err)
		}
		content, err := readSingleFile(reader, maxFileSize)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s from container: %w", name, err)
		}
		files[name] = content
	}
	return files, nil
}

func (d *dockerClient) ContainerRemove(ctx context.Context, containerID string) error {
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func buildArchive(dirName string, files map[string][]byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	if err := tw.WriteHeader(&tar.Header{
		Name:     dirName + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o777,
		ModTime:  now,
	}); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     path.Join(dirName, name),
			Typeflag: tar.TypeReg,
			Mode:     0o755,
			Size:     int64(len(content)),
			ModTime:  now,
		}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// readSingleFile returns the first regular file of a tar stream, truncated to limit.
func readSingleFile(r io.Reader, limit int64) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return io.ReadAll(io.LimitReader(tr, limit))
	}
}
