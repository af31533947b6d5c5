// Package orchestrator runs the orchestration actor. It drives conversation
// turns: load the session, persist the user message, search for context,
// stream a completion and persist the answer.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"ragcore/internal/actor"
	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/tokens"
	"ragcore/internal/types"
	"ragcore/internal/usage"
)

// Thinking step labels and the token event name emitted to the notifier.
const (
	StepAnalyzing          = "thinking.analyzing"
	StepSearchingContext   = "thinking.searching_context"
	StepDocumentsFound     = "thinking.documents_found"
	StepNoDocuments        = "thinking.no_documents"
	StepSearchError        = "thinking.search_error"
	StepGeneratingResponse = "thinking.generating_response"
	StepIntent             = "thinking.intent"
	StepComplexAnalysis    = "thinking.complex_analysis"

	EventChatToken = "chat-token"
)

// Options tunes turn handling. Zero values fall back to defaults.
type Options struct {
	ProcessTimeout      time.Duration
	IngestTimeout       time.Duration
	TokenBuffer         int
	SearchLimit         int
	SessionScopedSearch bool
	HistoryTokenBudget  int
	Tokens              *tokens.Counter
	// AnalyzeIntent spends one blocking completion per turn summarizing the
	// request and reports it as a thinking.intent step.
	AnalyzeIntent bool

	// Usage, when set, is charged the prompt and completion tokens of every
	// successful turn under Backend.
	Usage   *usage.Tracker
	Backend string
}

// OptionsFrom reads the orchestrator section of cfg.
func OptionsFrom(cfg *config.Config) Options {
	o := cfg.Orchestrator
	opts := Options{
		ProcessTimeout:      cfg.GetProcessTimeout(),
		IngestTimeout:       cfg.GetIngestTimeout(),
		TokenBuffer:         o.TokenBuffer,
		SearchLimit:         o.SearchLimit,
		SessionScopedSearch: o.SessionScopedSearch,
		HistoryTokenBudget:  o.HistoryTokenBudget,
		AnalyzeIntent:       o.AnalyzeIntent,
		Backend:             cfg.Generation.Backend,
	}
	if o.HistoryTokenBudget > 0 || o.UsagePath != "" {
		opts.Tokens = tokens.NewCounter(o.TokenEncoding)
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 30 * time.Second
	}
	if o.IngestTimeout <= 0 {
		o.IngestTimeout = 60 * time.Second
	}
	if o.TokenBuffer <= 0 {
		o.TokenBuffer = 100
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 5
	}
	return o
}

// Deps are the collaborators a turn delegates to. Store and Generator are
// required for turns, Retriever for ingestion; a nil Retriever makes turns
// run without context. A nil Notifier discards events.
type Deps struct {
	Store     types.ConversationStore
	Generator types.Generator
	Retriever types.Retriever
	Notifier  types.Notifier
}

type message interface {
	actor.Message
}

type processMsg struct {
	sessionID string
	content   string
	reply     *actor.Reply[string]
}

func (m *processMsg) Abandon() { m.reply.Abandon() }

type ingestMsg struct {
	content  string
	metadata string
	reply    *actor.Reply[string]
}

func (m *ingestMsg) Abandon() { m.reply.Abandon() }

// turnDoneMsg lets the actor forget a session whose queue has drained.
type turnDoneMsg struct {
	sessionID string
	done      chan struct{}
}

func (turnDoneMsg) Abandon() {}

// Handle is the send side of the orchestration actor. It is safe for
// concurrent use.
type Handle struct {
	mb     *actor.Mailbox[message]
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
}

type orchestrator struct {
	deps Deps
	opts Options
	mb   *actor.Mailbox[message]
	ctx  context.Context

	work conc.WaitGroup
	// tails holds, per session, the completion signal of the newest queued
	// turn. A new turn waits on it so one session's turns run in order.
	tails map[string]chan struct{}
}

// Start spawns the orchestration actor.
func Start(deps Deps, opts Options) *Handle {
	if deps.Notifier == nil {
		deps.Notifier = types.NopNotifier{}
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	o := &orchestrator{
		deps:  deps,
		opts:  opts,
		mb:    actor.NewMailbox[message](actor.DefaultCapacity),
		ctx:   ctx,
		tails: make(map[string]chan struct{}),
	}
	h := &Handle{mb: o.mb, opts: opts, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		actor.Run(ctx, "orchestrator", o.mb, o.handle)
		o.work.Wait()
		logging.Orchestrator("Orchestration actor stopped")
	}()
	return h
}

// handle never blocks: turns and ingestions run on their own goroutines so
// the mailbox keeps draining while downstream work is in flight.
func (o *orchestrator) handle(msg message) {
	switch m := msg.(type) {
	case *processMsg:
		if err := o.validateTurn(m); err != nil {
			m.reply.Send("", err)
			return
		}
		prev := o.tails[m.sessionID]
		done := make(chan struct{})
		o.tails[m.sessionID] = done
		o.work.Go(func() {
			defer o.turnFinished(m.sessionID, done)
			if prev != nil {
				select {
				case <-prev:
				case <-o.ctx.Done():
					m.reply.Send("", types.InternalError("process_user_message", o.ctx.Err()))
					return
				}
			}
			o.guard("process_user_message", m.reply, func() {
				m.reply.Send(o.runTurn(o.ctx, m.sessionID, m.content))
			})
		})
	case *ingestMsg:
		if o.deps.Retriever == nil {
			m.reply.Send("", types.ConfigurationError("ingest_content", fmt.Errorf("%w: retriever", types.ErrNotReady)))
			return
		}
		o.work.Go(func() {
			o.guard("ingest_content", m.reply, func() {
				m.reply.Send(o.deps.Retriever.Ingest(o.ctx, m.content, m.metadata))
			})
		})
	case turnDoneMsg:
		if o.tails[m.sessionID] == m.done {
			delete(o.tails, m.sessionID)
		}
	}
}

func (o *orchestrator) validateTurn(m *processMsg) error {
	const op = "process_user_message"
	if o.deps.Store == nil {
		return types.ConfigurationError(op, fmt.Errorf("%w: conversation store", types.ErrNotReady))
	}
	if o.deps.Generator == nil {
		return types.ConfigurationError(op, fmt.Errorf("%w: generator", types.ErrNotReady))
	}
	if strings.TrimSpace(m.sessionID) == "" {
		return types.ValidationError(op, "session id is required")
	}
	if strings.TrimSpace(m.content) == "" {
		return types.ValidationError(op, "message content is empty")
	}
	return nil
}

func (o *orchestrator) turnFinished(sessionID string, done chan struct{}) {
	close(done)
	// Fails only once the actor has stopped, when the map no longer matters.
	_ = o.mb.Send(o.ctx, turnDoneMsg{sessionID: sessionID, done: done})
}

// guard runs fn and turns a panic into an abandoned reply.
func (o *orchestrator) guard(op string, reply *actor.Reply[string], fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		logging.Get(logging.CategoryOrchestrator).Error("%s panicked: %v", op, r.AsError())
		reply.Abandon()
	}
}

// ProcessUserMessage runs one conversation turn and returns the assistant's
// answer. The caller waits at most the process timeout; a turn that outlives
// it still completes and persists its result.
func (h *Handle) ProcessUserMessage(ctx context.Context, sessionID, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.ProcessTimeout)
	defer cancel()
	return actor.Call(ctx, h.mb, "process_user_message", func(r *actor.Reply[string]) message {
		return &processMsg{sessionID: sessionID, content: content, reply: r}
	})
}

// IngestContent forwards content to the retriever. The caller waits at most
// the ingest timeout.
func (h *Handle) IngestContent(ctx context.Context, content, metadata string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.IngestTimeout)
	defer cancel()
	return actor.Call(ctx, h.mb, "ingest_content", func(r *actor.Reply[string]) message {
		return &ingestMsg{content: content, metadata: metadata, reply: r}
	})
}

// Done is closed once the actor and every in-flight turn have finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close stops accepting messages, cancels in-flight turns and waits for them.
func (h *Handle) Close() {
	h.mb.Close()
	h.cancel()
	<-h.done
}
