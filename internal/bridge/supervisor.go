package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/status"
	"go.uber.org/zap"
)

const (
	defaultStartupWatch    = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	startupPollInterval = 100 * time.Millisecond
)

// SupervisorConfig holds the bridge process configuration.
type SupervisorConfig struct {
	// Dir is the bridge working directory. The executable is resolved
	// relative to it.
	Dir        string
	Executable string

	// StartupWatch is how long Start watches console output for fatal
	// markers before declaring the process up.
	StartupWatch time.Duration

	// ShutdownTimeout is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	ShutdownTimeout time.Duration
}

func (c *SupervisorConfig) applyDefaults() {
	if c.StartupWatch == 0 {
		c.StartupWatch = defaultStartupWatch
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Supervisor owns the bridge child process. The bridge runs in its own
// session so that Stop can signal the whole process group, covering any
// children the bridge spawns.
type Supervisor struct {
	cfg     SupervisorConfig
	logger  *zap.Logger
	monitor *OutputMonitor
	state   *status.Machine

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, monitor *OutputMonitor, machine *status.Machine, logger *zap.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
		state:   machine,
	}
}

// Start launches the bridge process and watches its first seconds of output
// for fatal startup markers. Starting an already running bridge is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		s.logger.Debug("bridge already running")
		return nil
	}
	if processRunning(s.cfg.Executable) {
		s.logger.Info("bridge process already running outside this supervisor")
		return nil
	}

	dir, err := filepath.Abs(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("resolving bridge dir: %w", err)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("bridge directory not found: %s", dir)
	}
	exePath := filepath.Join(dir, s.cfg.Executable)
	if _, err := os.Stat(exePath); err != nil {
		return fmt.Errorf("bridge executable not found: %s", exePath)
	}
	if err := os.Chmod(exePath, 0o755); err != nil {
		return fmt.Errorf("making bridge executable: %w", err)
	}

	s.transition(status.Starting)
	s.monitor.Flush()

	// One pipe carries both stdout and stderr, matching what the bridge
	// prints to a terminal.
	pr, pw, err := os.Pipe()
	if err != nil {
		s.transition(status.StartFailed)
		return fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := exec.Command(exePath)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		s.transition(status.StartFailed)
		return fmt.Errorf("starting bridge: %w", err)
	}
	_ = pw.Close()

	exited := make(chan struct{})
	s.cmd = cmd
	s.exited = exited

	go s.monitor.Run(pr)
	go func() {
		defer close(exited)
		if err := cmd.Wait(); err != nil {
			s.logger.Info("bridge process exited", zap.Error(err))
		} else {
			s.logger.Info("bridge process exited")
		}
	}()

	if err := s.watchStartup(ctx, exited); err != nil {
		s.stopLocked()
		s.transition(status.StartFailed)
		return err
	}

	s.transition(status.Running)
	s.logger.Info("bridge started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// watchStartup scans early output for fatal markers and catches immediate
// process death. A clean watch window means the process is considered up.
func (s *Supervisor) watchStartup(ctx context.Context, exited chan struct{}) error {
	deadline := time.NewTimer(s.cfg.StartupWatch)
	defer deadline.Stop()
	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()

	for {
		for {
			line, ok := s.monitor.TryLine()
			if !ok {
				break
			}
			s.logger.Debug("bridge startup output", zap.String("line", line))
			if IsFatalMarker(line) {
				return fmt.Errorf("bridge initialization failed: %s", line)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errors.New("bridge process exited during startup")
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop terminates the bridge process group: SIGTERM first, then SIGKILL if
// it does not exit within the shutdown timeout. Stopping an already stopped
// bridge is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() {
		s.cmd = nil
		return nil
	}
	err := s.stopLocked()
	s.transition(status.Stopped)
	return err
}

func (s *Supervisor) stopLocked() error {
	cmd, exited := s.cmd, s.exited
	s.cmd = nil
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping bridge process group", zap.Int("pid", pid))
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Process group may be gone already; try the process directly.
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-exited:
		s.logger.Info("bridge terminated gracefully")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
	}

	s.logger.Warn("bridge did not exit in time, sending SIGKILL")
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
	<-exited
	return nil
}

// IsRunning reports whether the bridge is alive: either our own child has
// not exited, or some process on the host is running the bridge executable.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	running := s.runningLocked()
	s.mu.Unlock()
	if running {
		return true
	}
	return processRunning(s.cfg.Executable)
}

func (s *Supervisor) runningLocked() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

func (s *Supervisor) transition(to status.State) {
	if s.state == nil {
		return
	}
	if err := s.state.Transition(to); err != nil {
		s.logger.Warn("lifecycle transition rejected", zap.Error(err))
	}
}

// processRunning scans /proc for any process whose executable matches name.
// This catches bridges left behind by an earlier supervisor instance.
func processRunning(name string) bool {
	if name == "" {
		return false
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == os.Getpid() {
			continue
		}
		exe, err := os.Readlink(filepath.Join("/proc", entry.Name(), "exe"))
		if err != nil {
			continue
		}
		if strings.Contains(exe, name) {
			return true
		}
	}
	return false
}
