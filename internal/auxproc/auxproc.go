// Package auxproc runs the optional servers that sit next to the API: an
// external visualization command and a static frontend.
package auxproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// StopGrace is how long a child gets to exit after SIGINT before it is killed.
const StopGrace = time.Second

var commandContext = exec.CommandContext

// Process is a child process started from a command line.
type Process struct {
	name   string
	argv   []string
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewProcess splits command on whitespace. Quoting is not supported.
func NewProcess(name, command string, logger *slog.Logger) (*Process, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("auxproc: %s: empty command", name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{name: name, argv: argv, logger: logger}, nil
}

// Start launches the child. Its output is passed through to ours.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("auxproc: %s: already started", p.name)
	}

	// Stop owns termination; ctx only feeds the lookup.
	cmd := commandContext(context.WithoutCancel(ctx), p.argv[0], p.argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("auxproc: start %s: %w", p.name, err)
	}
	p.cmd = cmd
	p.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	p.logger.Info("auxproc: started",
		slog.String("name", p.name), slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Done is closed when the child exits. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop interrupts the child and kills it when it has not exited within
// StopGrace. Stopping a process that was never started is a no-op.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("auxproc: interrupt failed",
			slog.String("name", p.name), slog.String("error", err.Error()))
	}
	select {
	case <-done:
	case <-time.After(StopGrace):
		p.logger.Warn("auxproc: killing", slog.String("name", p.name))
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("auxproc: kill %s: %w", p.name, err)
		}
		<-done
	}

	p.logger.Info("auxproc: stopped", slog.String("name", p.name))
	return p.exitErr()
}

// exitErr hides the exit status caused by our own signals.
func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ee *exec.ExitError
	if errors.As(p.err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return nil
		}
	}
	return p.err
}

// Frontend serves a directory of static files.
type Frontend struct {
	dir    string
	port   int
	logger *slog.Logger
	srv    *http.Server
	ln     net.Listener
}

// NewFrontend serves dir on port. Port 0 picks a free port.
func NewFrontend(dir string, port int, logger *slog.Logger) *Frontend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontend{dir: dir, port: port, logger: logger}
}

// Start binds the port and serves in the background.
func (f *Frontend) Start() error {
	if _, err := os.Stat(f.dir); err != nil {
		return fmt.Errorf("auxproc: frontend dir: %w", err)
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(f.port))
	if err != nil {
		return fmt.Errorf("auxproc: frontend listen: %w", err)
	}
	f.ln = ln
	f.srv = &http.Server{
		Handler:           http.FileServer(http.Dir(f.dir)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := f.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("auxproc: frontend stopped", slog.String("error", err.Error()))
		}
	}()
	f.logger.Info("auxproc: frontend serving",
		slog.String("dir", f.dir), slog.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (f *Frontend) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Stop shuts the server down.
func (f *Frontend) Stop(ctx context.Context) error {
	if f.srv == nil {
		return nil
	}
	return f.srv.Shutdown(ctx)
}

// Set is the group of auxiliary servers started by the application.
type Set struct {
	procs    []*Process
	frontend *Frontend
}

// Config selects which servers a Set starts. Empty fields are skipped.
type Config struct {
	Visualization string
	FrontendDir   string
	FrontendPort  int
}

// Start launches every configured server. On failure the ones already
// started are stopped again.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Set, error) {
	s := &Set{}
	if cfg.Visualization != "" {
		p, err := NewProcess("visualization", cfg.Visualization, logger)
		if err != nil {
			return nil, err
		}
		if err := p.Start(ctx); err != nil {
			return nil, err
		}
		s.procs = append(s.procs, p)
	}
	if cfg.FrontendDir != "" {
		f := NewFrontend(cfg.FrontendDir, cfg.FrontendPort, logger)
		if err := f.Start(); err != nil {
			s.Stop(ctx)
			return nil, err
		}
		s.frontend = f
	}
	return s, nil
}

// Stop stops every server, logging failures.
func (s *Set) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	if s.frontend != nil {
		if err := s.frontend.Stop(ctx); err != nil {
			s.frontend.logger.Warn("auxproc: frontend shutdown", slog.String("error", err.Error()))
		}
	}
	for _, p := range s.procs {
		if err := p.Stop(); err != nil {
			p.logger.Warn("auxproc: process exited", slog.String("name", p.name), slog.String("error", err.Error()))
		}
	}
}
