// Package generation runs the generation actor: it owns the inference server
// process and answers blocking and streaming completion requests.
package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"ragcore/internal/actor"
	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

type message interface {
	actor.Message
}

type generateMsg struct {
	req   types.GenerateRequest
	sink  *types.TokenSink // nil for a blocking completion
	reply *actor.Reply[string]
}

func (m *generateMsg) Abandon() { m.reply.Abandon() }

// idleCheckMsg asks the actor to stop an unused server.
type idleCheckMsg struct{}

func (idleCheckMsg) Abandon() {}

// Handle is the send side of the generation actor. It is safe for concurrent
// use and implements types.Generator.
type Handle struct {
	mb     *actor.Mailbox[message]
	cancel context.CancelFunc
	done   chan struct{}
}

var _ types.Generator = (*Handle)(nil)

type generator struct {
	cfg     config.GenerationConfig
	mb      *actor.Mailbox[message]
	backend Backend
	server  *serverProcess

	ctx      context.Context
	workers  *pool.Pool
	bg       conc.WaitGroup
	inflight atomic.Int32
	lastUsed time.Time
}

// Start spawns the generation actor for cfg. With the llama backend and Launch
// set, the server is started on the actor goroutine before any request is
// served; if that fails the actor stops and every call returns an internal
// error.
func Start(cfg config.GenerationConfig) *Handle {
	if cfg.Backend == "openai" {
		return spawn(cfg, NewOpenAIBackend(cfg), nil)
	}

	token := cfg.AuthToken
	if token == "" && cfg.Launch {
		token = uuid.NewString()
		logging.GenerationWarn("LLAMA_AUTH_TOKEN not set; generated a temporary token for this session")
	}
	client := NewLlamaClient(cfg, token)

	var server *serverProcess
	if cfg.Launch {
		server = newServerProcess(cfg, token, client.Health)
	}
	return spawn(cfg, client, server)
}

func spawn(cfg config.GenerationConfig, backend Backend, server *serverProcess) *Handle {
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &generator{
		cfg:      cfg,
		mb:       actor.NewMailbox[message](actor.DefaultCapacity),
		backend:  backend,
		server:   server,
		ctx:      ctx,
		workers:  pool.New().WithMaxGoroutines(parallel),
		lastUsed: time.Now(),
	}
	h := &Handle{mb: g.mb, cancel: cancel, done: make(chan struct{})}
	go g.run(h.done)
	return h
}

func (g *generator) run(done chan struct{}) {
	defer close(done)
	defer g.shutdown()

	logging.Generation("Generation actor starting with backend %s", g.backend.Name())
	if g.server != nil {
		if err := g.server.ensure(g.ctx); err != nil {
			logging.GenerationError("Generation actor stopping: %v", err)
			g.mb.Shutdown()
			return
		}
		if idle := g.cfg.GetIdleTimeout(); idle > 0 {
			g.bg.Go(func() { g.tickIdle(idle) })
		}
	}

	actor.Run(g.ctx, "generation", g.mb, g.handle)
}

func (g *generator) shutdown() {
	g.workers.Wait()
	g.bg.Wait()
	if g.server != nil {
		g.server.stop()
	}
	if c, ok := g.backend.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	logging.Generation("Generation actor stopped")
}

func (g *generator) tickIdle(every time.Duration) {
	ticker := time.NewTicker(every / 2)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.mb.Done():
			return
		case <-ticker.C:
			if err := g.mb.Send(g.ctx, idleCheckMsg{}); err != nil {
				return
			}
		}
	}
}

func (g *generator) handle(msg message) {
	switch m := msg.(type) {
	case idleCheckMsg:
		idle := g.cfg.GetIdleTimeout()
		if g.server != nil && g.server.running() && g.inflight.Load() == 0 && time.Since(g.lastUsed) >= idle {
			logging.Generation("llama-server idle for %s; stopping", idle)
			g.server.stop()
		}
	case *generateMsg:
		g.serve(m)
	}
}

func (g *generator) serve(m *generateMsg) {
	op := "generate"
	if m.sink != nil {
		op = "stream_generate"
	}
	if g.server != nil {
		if err := g.server.ensure(g.ctx); err != nil {
			m.reply.Send("", asTyped(op, err))
			return
		}
	}
	g.lastUsed = time.Now()
	g.inflight.Add(1)

	// Blocks while every slot is busy, which backs requests up in the mailbox.
	g.workers.Go(func() {
		defer g.inflight.Add(-1)

		var pc panics.Catcher
		pc.Try(func() { g.complete(op, m) })
		if r := pc.Recovered(); r != nil {
			logging.GenerationError("%s panicked: %v", op, r.AsError())
			m.reply.Abandon()
		}
	})
}

func (g *generator) complete(op string, m *generateMsg) {
	start := time.Now()
	var (
		text string
		err  error
	)
	if m.sink == nil {
		text, err = g.backend.Complete(g.ctx, m.req)
	} else {
		err = g.backend.Stream(g.ctx, m.req, m.sink)
	}
	elapsed := time.Since(start)
	logging.Audit().Generation(g.backend.Name(), m.sink != nil, elapsed, err)
	if err != nil {
		logging.GenerationError("%s failed after %s: %v", op, elapsed, err)
	} else {
		logging.GenerationDebug("%s finished in %s", op, elapsed)
	}
	m.reply.Send(text, asTyped(op, err))
}

// asTyped keeps typed errors and classifies everything else as internal.
func asTyped(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.InternalError(op, err)
}

// Generate runs a blocking completion and returns the generated text.
func (h *Handle) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	return actor.Call(ctx, h.mb, "generate", func(r *actor.Reply[string]) message {
		return &generateMsg{req: req, reply: r}
	})
}

// StreamGenerate streams a completion into sink and returns once the upstream
// stream has ended. The caller owns sink and may close it early.
func (h *Handle) StreamGenerate(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
	_, err := actor.Call(ctx, h.mb, "stream_generate", func(r *actor.Reply[string]) message {
		return &generateMsg{req: req, sink: sink, reply: r}
	})
	return err
}

// Done is closed once the actor has stopped and the server has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close stops the actor, cancels in-flight requests, kills the server process
// and waits for all of it to finish. Safe to call more than once.
func (h *Handle) Close() {
	h.mb.Close()
	h.cancel()
	<-h.done
}
