package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// sandboxDir is where harness files are unpacked inside the container
const sandboxDir = "/sandbox"

// DockerConfig holds Docker executor configuration
type DockerConfig struct {
	Image      string
	MemoryMB   int64
	CPULimit   float64
	PidsLimit  int64
	User       string
	NetworkOff bool
}

// DefaultDockerConfig returns sensible defaults
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:      "node:22-alpine",
		MemoryMB:   128,
		CPULimit:   0.5,
		PidsLimit:  32,
		User:       "1000:1000",
		NetworkOff: true,
	}
}

// containerRuntime is the slice of the Docker API the executor needs
type containerRuntime interface {
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error)
	CopyTo(ctx context.Context, id, dst string, content io.Reader) error
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string) ([]byte, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DockerExecutor runs every evaluation in a fresh, throwaway container
// with networking disabled, all capabilities dropped and tight memory,
// CPU and pid limits. On timeout the container is force-removed.
type DockerExecutor struct {
	cfg     DockerConfig
	runtime containerRuntime
}

// NewDockerExecutor connects to the Docker daemon from the environment
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	rt, err := newDockerRuntime()
	if err != nil {
		return nil, err
	}
	return newDockerExecutor(cfg, rt), nil
}

func newDockerExecutor(cfg DockerConfig, rt containerRuntime) *DockerExecutor {
	def := DefaultDockerConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = def.MemoryMB
	}
	if cfg.CPULimit <= 0 {
		cfg.CPULimit = def.CPULimit
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = def.PidsLimit
	}
	if cfg.User == "" {
		cfg.User = def.User
	}
	return &DockerExecutor{cfg: cfg, runtime: rt}
}

// Name returns the executor name
func (e *DockerExecutor) Name() string {
	return "docker"
}

// Run executes the harness in a new container
func (e *DockerExecutor) Run(ctx context.Context, prog *Program) (*Output, error) {
	if err := e.runtime.EnsureImage(ctx, e.cfg.Image); err != nil {
		return nil, fmt.Errorf("ensure image: %w", err)
	}

	heapMB := e.cfg.MemoryMB * 3 / 4
	containerCfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{"node", fmt.Sprintf("--max-old-space-size=%d", heapMB), "--disallow-code-generation-from-strings", HarnessFile},
		WorkingDir:      sandboxDir,
		User:            e.cfg.User,
		Env:             []string{"NODE_ENV=production"},
		NetworkDisabled: e.cfg.NetworkOff,
		Tty:             false,
		Labels: map[string]string{
			"kata.sandbox": "true",
		},
	}

	pids := e.cfg.PidsLimit
	hostCfg := &container.HostConfig{
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     e.cfg.MemoryMB * 1024 * 1024,
			MemorySwap: e.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs:   int64(e.cfg.CPULimit * 1e9),
			PidsLimit:  &pids,
		},
	}
	if e.cfg.NetworkOff {
		hostCfg.NetworkMode = "none"
	}

	id, err := e.runtime.Create(ctx, containerCfg, hostCfg)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		// The run context may already be done; removal must still happen.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.runtime.Remove(rmCtx, id); err != nil {
			slog.Warn("failed to remove sandbox container", "container_id", id, "error", err)
		}
	}()

	archive, err := tarFiles(strings.TrimPrefix(sandboxDir, "/"), prog.Files)
	if err != nil {
		return nil, err
	}
	if err := e.runtime.CopyTo(ctx, id, "/", archive); err != nil {
		return nil, fmt.Errorf("copy files: %w", err)
	}

	start := time.Now()
	if err := e.runtime.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	exitCode, waitErr := e.runtime.Wait(ctx, id)
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &Output{TimedOut: true, ExitCode: -1, Duration: duration}, nil
		}
		return nil, ctxErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("wait container: %w", waitErr)
	}

	raw, err := e.runtime.Logs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	stdout, stderr := demuxOutput(raw)

	return &Output{
		Stdout:   truncate(stdout, maxOutputBytes),
		Stderr:   truncate(stderr, maxOutputBytes),
		ExitCode: int(exitCode),
		Duration: duration,
	}, nil
}

// Close closes the Docker client
func (e *DockerExecutor) Close() error {
	return e.runtime.Close()
}

// tarFiles builds a tar archive placing files under dir
func tarFiles(dir string, files map[string]string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name:     dir + "/",
		Mode:     0755,
		Typeflag: tar.TypeDir,
	}); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		header := &tar.Header{
			Name: path.Join(dir, path.Base(name)),
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("write tar content: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// demuxOutput separates Docker multiplexed stdout/stderr streams.
// Docker stream protocol uses 8-byte headers: [type][0][0][0][size1][size2][size3][size4]
// type: 1=stdout, 2=stderr
func demuxOutput(data []byte) (stdout, stderr string) {
	var outBuf, errBuf strings.Builder
	raw := data

	for len(data) >= 8 {
		streamType := data[0]
		if streamType != 1 && streamType != 2 {
			break
		}
		size := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
		data = data[8:]

		if size > len(data) {
			size = len(data)
		}

		chunk := string(data[:size])
		data = data[size:]

		if streamType == 1 {
			outBuf.WriteString(chunk)
		} else {
			errBuf.WriteString(chunk)
		}
	}

	// Without recognisable headers the stream was not multiplexed
	if outBuf.Len() == 0 && errBuf.Len() == 0 && len(raw) > 0 {
		return string(raw), ""
	}

	return outBuf.String(), errBuf.String()
}

// dockerRuntime implements containerRuntime with the Docker SDK
type dockerRuntime struct {
	client *client.Client
}

func newDockerRuntime() (*dockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	// Verify Docker is reachable
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}

	return &dockerRuntime{client: cli}, nil
}

func (r *dockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	if _, err := r.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// Drain the reader to complete the pull
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (r *dockerRuntime) Create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *dockerRuntime) CopyTo(ctx context.Context, id, dst string, content io.Reader) error {
	return r.client.CopyToContainer(ctx, id, dst, content, container.CopyToContainerOptions{})
}

func (r *dockerRuntime) Start(ctx context.Context, id string) error {
	return r.client.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *dockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (r *dockerRuntime) Logs(ctx context.Context, id string) ([]byte, error) {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 2*maxOutputBytes+64*1024))
}

func (r *dockerRuntime) Remove(ctx context.Context, id string) error {
	return r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (r *dockerRuntime) Close() error {
	return r.client.Close()
}
