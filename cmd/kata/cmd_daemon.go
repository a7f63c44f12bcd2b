package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kata/internal/config"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the katad daemon in the background",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE:  runStop,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Print recent daemon logs",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}

	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, runtimes and the daemon",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}

	logTailBytes int64
)

func init() {
	logsCmd.Flags().Int64Var(&logTailBytes, "bytes", 4096, "how much of the log tail to print")
}

func runStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if isRunning(cmd.Context()) {
		fmt.Fprintln(out, "✓ Daemon is already running")
		return nil
	}

	kataDir, err := config.EnsureKataDir()
	if err != nil {
		return fmt.Errorf("setup kata directory: %w", err)
	}

	katadPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	daemon := exec.Command(katadPath)
	daemon.Dir = kataDir
	detach(daemon)

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The daemon outlives us; release it so no zombie is left behind
	_ = daemon.Process.Release()

	fmt.Fprint(out, "Starting daemon...")
	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if isRunning(cmd.Context()) {
			fmt.Fprintln(out, " ✓")
			fmt.Fprintf(out, "Daemon running at %s\n", daemonAddr)
			return nil
		}
		fmt.Fprint(out, ".")
	}

	fmt.Fprintln(out, " ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'kata logs')")
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !isRunning(cmd.Context()) {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	kataDir, err := config.KataDir()
	if err != nil {
		return err
	}
	pid, err := readPID(filepath.Join(kataDir, pidFile))
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Fprint(out, "Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(cmd.Context()) {
			fmt.Fprintln(out, " ✓")
			return nil
		}
		fmt.Fprint(out, ".")
	}

	fmt.Fprintln(out, " ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !isRunning(cmd.Context()) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	c := newClient()
	var status struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		UptimeSeconds int    `json:"uptime_seconds"`
		Catalog       struct {
			Source     string   `json:"source"`
			Exercises  int      `json:"exercises"`
			Categories []string `json:"categories"`
		} `json:"catalog"`
		Runner struct {
			Executor  string `json:"executor"`
			TimeoutMS int    `json:"timeout_ms"`
		} `json:"runner"`
		Storage string `json:"storage"`
		Drafts  string `json:"drafts"`
		Events  bool   `json:"events"`
	}
	if err := c.do(cmd.Context(), http.MethodGet, "/v1/status", nil, &status); err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if jsonOutput {
		return printRaw(out, c.lastRaw)
	}

	fmt.Fprintf(out, "Status:    %s\n", status.Status)
	fmt.Fprintf(out, "Version:   %s\n", status.Version)
	fmt.Fprintf(out, "Uptime:    %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Fprintf(out, "Catalog:   %d exercises from %s\n", status.Catalog.Exercises, status.Catalog.Source)
	fmt.Fprintf(out, "Runner:    %s (%dms timeout)\n", status.Runner.Executor, status.Runner.TimeoutMS)
	fmt.Fprintf(out, "Storage:   %s, drafts in %s\n", status.Storage, status.Drafts)
	fmt.Fprintf(out, "Events:    %t\n", status.Events)
	fmt.Fprintf(out, "Address:   %s\n", daemonAddr)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	kataDir, err := config.KataDir()
	if err != nil {
		return err
	}

	file, err := os.Open(filepath.Join(kataDir, "logs", "katad.log"))
	if os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tailLog(file, logTailBytes, cmd.OutOrStdout())
}

// tailLog prints whole lines from the last n bytes of f
func tailLog(f *os.File, n int64, w io.Writer) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	offset := max(info.Size()-n, 0)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	if offset > 0 {
		// Skip the partial first line
		_, _ = reader.ReadString('\n')
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failures := 0
	report := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Fprintf(out, "✗ %-10s %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "✓ %s\n", name)
	}

	cfg, err := config.LoadLocalConfig()
	if err == nil {
		err = cfg.Validate()
	}
	report("config", err)
	if cfg == nil {
		cfg = config.DefaultLocalConfig()
	}

	report("node", checkNode(cfg.Runner.NodePath))
	if cfg.Runner.Executor == "docker" {
		report("docker", checkDocker())
	}

	if isRunning(cmd.Context()) {
		report("daemon", nil)
	} else {
		report("daemon", fmt.Errorf("not reachable at %s", daemonAddr))
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}

func checkNode(path string) error {
	if path == "" {
		path = "node"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", path)
	}
	if err := exec.Command(resolved, "--version").Run(); err != nil {
		return fmt.Errorf("%s --version failed: %w", resolved, err)
	}
	return nil
}

func checkDocker() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	info := exec.Command("docker", "info")
	info.Stdout = io.Discard
	info.Stderr = io.Discard
	if err := info.Run(); err != nil {
		return fmt.Errorf("docker daemon not running")
	}
	return nil
}

// isRunning checks the health endpoint
func isRunning(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return newClient().healthy(ctx)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// findDaemonBinary locates katad on PATH or next to this binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("katad"); err == nil {
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "katad")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{"/usr/local/bin/katad", "./katad", "./cmd/katad/katad"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("katad binary not found (build with 'go build ./cmd/katad')")
}
