package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// maxOutputBytes caps captured stdout/stderr per run
const maxOutputBytes = 1 << 20

// Executor runs a Program in isolation
type Executor interface {
	// Name identifies the executor in logs and status output
	Name() string

	// Run executes the harness. It returns when the program exits or ctx
	// is done; in the latter case the run is torn down and TimedOut is set.
	Run(ctx context.Context, prog *Program) (*Output, error)

	Close() error
}

// Output contains the raw result of one run
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// LocalExecutor runs the harness with a node binary on the host. The
// process gets an empty environment, a private temp directory and its own
// process group so a runaway submission is killed together with any
// children.
type LocalExecutor struct {
	nodePath string
	memoryMB int
}

// NewLocalExecutor creates a new local executor
func NewLocalExecutor(nodePath string, memoryMB int) *LocalExecutor {
	if nodePath == "" {
		nodePath = "node"
	}
	if memoryMB <= 0 {
		memoryMB = 128
	}
	return &LocalExecutor{nodePath: nodePath, memoryMB: memoryMB}
}

// Name returns the executor name
func (e *LocalExecutor) Name() string {
	return "local"
}

// Available reports whether the node binary can be found
func (e *LocalExecutor) Available() error {
	if _, err := exec.LookPath(e.nodePath); err != nil {
		return fmt.Errorf("node not found: %w", err)
	}
	return nil
}

// Run executes the harness under node
func (e *LocalExecutor) Run(ctx context.Context, prog *Program) (*Output, error) {
	tmpDir, err := createTempCodeDir(prog.Files)
	if err != nil {
		return nil, fmt.Errorf("prepare workdir: %w", err)
	}
	defer removeTempDir(tmpDir)

	cmd := exec.CommandContext(ctx, e.nodePath,
		"--max-old-space-size="+strconv.Itoa(e.memoryMB),
		"--disallow-code-generation-from-strings",
		HarnessFile,
	)
	cmd.Dir = tmpDir
	cmd.Env = []string{"NODE_ENV=production", "HOME=" + tmpDir}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = time.Second

	stdout := &limitedBuffer{limit: maxOutputBytes}
	stderr := &limitedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			out.TimedOut = true
			return out, nil
		}
		return nil, ctxErr
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run node: %w", runErr)
	}
	return out, nil
}

// Close is a no-op for the local executor
func (e *LocalExecutor) Close() error {
	return nil
}

// Helper functions
func createTempCodeDir(files map[string]string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "kata-run-*")
	if err != nil {
		return "", err
	}

	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filepath.Base(filename))
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			removeTempDir(tmpDir)
			return "", err
		}
	}

	return tmpDir, nil
}

func removeTempDir(dir string) {
	os.RemoveAll(dir)
}

// limitedBuffer keeps at most limit bytes and silently drops the rest
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
