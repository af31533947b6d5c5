package generation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

const healthPollInterval = 500 * time.Millisecond

// =============================================================================
// RESTART CIRCUIT BREAKER
// =============================================================================

// breaker bounds how often the server may be (re)started. Every start counts;
// once max starts happen within the reset window further starts are refused
// until the window has passed since the last one.
type breaker struct {
	max      int
	reset    time.Duration
	attempts int
	last     time.Time
}

func (b *breaker) allow(now time.Time) error {
	if b.attempts > 0 && now.Sub(b.last) > b.reset {
		logging.Generation("Circuit breaker reset after %s; clearing %d attempts", b.reset, b.attempts)
		b.attempts = 0
	}
	if b.max > 0 && b.attempts >= b.max {
		return fmt.Errorf("circuit breaker open: %d restart attempts in the last %s", b.attempts, b.reset)
	}
	b.attempts++
	b.last = now
	return nil
}

// =============================================================================
// LLAMA-SERVER PROCESS
// =============================================================================

// serverProcess owns the llama-server child. Only the generation actor
// goroutine calls its methods.
type serverProcess struct {
	cfg       config.GenerationConfig
	authToken string
	health    func(ctx context.Context) error
	breaker   breaker

	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

func newServerProcess(cfg config.GenerationConfig, authToken string, health func(ctx context.Context) error) *serverProcess {
	return &serverProcess{
		cfg:       cfg,
		authToken: authToken,
		health:    health,
		breaker:   breaker{max: cfg.MaxRestarts, reset: cfg.GetRestartReset()},
	}
}

func (p *serverProcess) args() []string {
	args := []string{
		"-m", p.cfg.ModelPath,
		"--host", p.cfg.Host,
		"--port", strconv.Itoa(p.cfg.Port),
		"-c", strconv.Itoa(p.cfg.ContextSize),
		"-np", strconv.Itoa(p.cfg.Parallel),
		"-ngl", strconv.Itoa(p.cfg.GPULayers),
	}
	if p.authToken != "" {
		args = append(args, "--api-key", p.authToken)
	}
	return args
}

// running reports whether a started child has not exited yet.
func (p *serverProcess) running() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ensure starts the server if it is not running.
func (p *serverProcess) ensure(ctx context.Context) error {
	if p.running() {
		return nil
	}
	if p.cmd != nil {
		logging.GenerationWarn("llama-server exited: %v", p.exitErr)
		p.cmd = nil
	}
	if err := p.breaker.allow(time.Now()); err != nil {
		logging.GenerationError("%v", err)
		return types.InternalError("start server", err)
	}

	attempt := p.breaker.attempts
	err := p.start(ctx)
	logging.Audit().ServerRestart(attempt, err)
	return err
}

func (p *serverProcess) start(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryGeneration, "llama-server startup")
	defer timer.StopWithInfo()

	bin, err := exec.LookPath(p.cfg.ServerBinary)
	if err != nil {
		return types.ConfigurationError("start server",
			fmt.Errorf("llama-server binary %q not found: %w", p.cfg.ServerBinary, err))
	}
	if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		return types.ConfigurationError("start server", fmt.Errorf("model file: %w", err))
	}

	cmd := exec.Command(bin, p.args()...)
	cmd.Stdout = &lineLogger{prefix: "llama-server"}
	cmd.Stderr = &lineLogger{prefix: "llama-server"}

	logging.Generation("Starting llama-server: %s (attempt %d/%d)", p.cfg.ModelPath, p.breaker.attempts, p.breaker.max)
	if err := cmd.Start(); err != nil {
		return types.InternalError("start server", fmt.Errorf("failed to start llama-server: %w", err))
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.exited = exited
	go func() {
		p.exitErr = cmd.Wait()
		close(exited)
	}()

	if err := p.waitReady(ctx); err != nil {
		p.stop()
		return types.InternalError("start server", err)
	}
	logging.Generation("llama-server ready on %s (pid %d)", p.cfg.Endpoint(), cmd.Process.Pid)
	return nil
}

// waitReady sleeps the grace period, then polls /health until it reports ready,
// the startup timeout passes, or the process exits.
func (p *serverProcess) waitReady(ctx context.Context) error {
	select {
	case <-time.After(p.cfg.GetGracePeriod()):
	case <-p.exited:
		return fmt.Errorf("llama-server exited during startup: %v", p.exitErr)
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.Now().Add(p.cfg.GetStartupTimeout())
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.health(checkCtx)
		cancel()
		if err == nil {
			logging.GenerationDebug("llama-server healthy after %d checks", attempt)
			return nil
		}
		logging.GenerationDebug("Health check %d failed: %v", attempt, err)

		if time.Now().After(deadline) {
			return fmt.Errorf("llama-server not ready after %s: %w", p.cfg.GetStartupTimeout(), err)
		}
		select {
		case <-ticker.C:
		case <-p.exited:
			return fmt.Errorf("llama-server exited during startup: %v", p.exitErr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stop kills the child and waits for it to exit.
func (p *serverProcess) stop() {
	if p.cmd == nil {
		return
	}
	if p.running() {
		logging.Generation("Stopping llama-server (pid %d)", p.cmd.Process.Pid)
		if err := p.cmd.Process.Kill(); err != nil {
			logging.GenerationWarn("Failed to kill llama-server: %v", err)
		}
	}
	<-p.exited
	p.cmd = nil
}

// lineLogger forwards a child's output to the generation log one line at a time.
type lineLogger struct {
	prefix string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			break
		}
		logging.GenerationDebug("[%s] %s", l.prefix, line[:len(line)-1])
	}
	return len(p), nil
}
