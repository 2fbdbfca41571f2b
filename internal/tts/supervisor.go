// Package tts supervises the local text-to-speech server process and talks
// to its HTTP API.
//
// A Supervisor is owned by one shell and passed to whatever needs speech.
// Its mutex only guards state transitions; health checks and synthesis
// requests run without holding it.
package tts

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of the speech server.
type State int

const (
	Stopped State = iota
	Starting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	default:
		return "stopped"
	}
}

var (
	ErrAlreadyRunning = errors.New("tts server already running")
	ErrServerNotFound = errors.New("cannot find tts server: no bundled executable and no python/tts_server.py")
	ErrNotReady       = errors.New("tts server is not ready")
)

const DefaultBaseURL = "http://127.0.0.1:9966"

// Supervisor starts, stops and polls the speech server.
type Supervisor struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	state State

	// spawning is set while a process is being launched outside mu.
	spawning bool

	// gen changes on every Start and Stop so a launch can tell it was
	// superseded.
	gen uint64

	spawn func(argv []string) (*exec.Cmd, error)

	baseURL string
	command []string
	engine  string
	exeDir  string
	workDir string
	client  httpDoer
	logger  *zap.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBaseURL sets the server's base URL.
func WithBaseURL(u string) Option {
	return func(s *Supervisor) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithCommand sets an explicit command line for the server.
func WithCommand(argv ...string) Option {
	return func(s *Supervisor) {
		if len(argv) > 0 {
			s.command = argv
		}
	}
}

// WithEngine sets the engine used when Speak is called without one.
func WithEngine(engine string) Option {
	return func(s *Supervisor) {
		if engine != "" {
			s.engine = engine
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c httpDoer) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.client = c
		}
	}
}

// NewSupervisor creates a stopped Supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		baseURL: DefaultBaseURL,
		engine:  "chattts",
		client:  defaultClient(),
		logger:  zap.NewNop(),
		spawn:   startProcess,
	}
	if exe, err := os.Executable(); err == nil {
		s.exeDir = filepath.Dir(exe)
	}
	s.workDir, _ = os.Getwd()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveCommand picks the server command line: the configured command,
// then a bundled bin/tts_server next to the executable, then the python
// script in development checkouts.
func (s *Supervisor) resolveCommand() ([]string, error) {
	if len(s.command) > 0 {
		return s.command, nil
	}
	if s.exeDir != "" {
		name := "tts_server"
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		bundled := filepath.Join(s.exeDir, "bin", name)
		if fileExists(bundled) {
			return []string{bundled}, nil
		}
	}
	for _, rel := range []string{"../python/tts_server.py", "python/tts_server.py"} {
		script := filepath.Join(s.workDir, rel)
		if fileExists(script) {
			return []string{"python", script}, nil
		}
	}
	return nil, ErrServerNotFound
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func startProcess(argv []string) (*exec.Cmd, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Start launches the server. It returns ErrAlreadyRunning when a process is
// already being supervised or launched. A Stop during the launch wins: the new
// process is killed and the server stays stopped.
func (s *Supervisor) Start() error {
	argv, err := s.resolveCommand()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.cmd != nil || s.spawning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.spawning = true
	s.state = Starting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	cmd, err := s.spawn(argv)

	s.mu.Lock()
	s.spawning = false
	current := s.gen == gen
	switch {
	case err != nil:
		if current {
			s.state = Failed
		}
	case current:
		s.cmd = cmd
		go s.wait(cmd)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to start tts server: %w", err)
	}
	if !current {
		// Stopped while launching.
		s.kill(cmd)
		_ = cmd.Wait()
		return nil
	}
	s.logger.Info("tts server started", zap.Strings("argv", argv), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// wait reaps cmd and marks the server failed if it exits while still
// supervised.
func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd {
		return
	}
	s.cmd = nil
	s.state = Failed
	s.logger.Warn("tts server exited", zap.Error(err))
}

// Stop kills the server if it is running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.state = Stopped
	s.gen++
	s.mu.Unlock()

	if cmd != nil {
		s.kill(cmd)
	}
}

func (s *Supervisor) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		s.logger.Debug("kill tts server", zap.Error(err))
	}
	s.logger.Info("tts server stopped")
}

// State returns the last known state without polling.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// promote moves from Starting to Ready if cmd is still the supervised
// process.
func (s *Supervisor) promote(cmd *exec.Cmd) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == cmd && s.state == Starting {
		s.state = Ready
		s.logger.Info("tts server ready")
	}
	return s.state
}
