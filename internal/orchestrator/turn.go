package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

const opTurn = "process_user_message"

// slowTurn is the duration above which a finished turn is logged as a warning.
const slowTurn = 20 * time.Second

// runTurn executes one turn. The user message is persisted before any
// downstream call, and the assistant message only after generation succeeded.
func (o *orchestrator) runTurn(ctx context.Context, sessionID, content string) (string, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "turn "+sessionID)
	audit := logging.AuditWithSession(sessionID)
	audit.TurnStart(len(content))
	notify := sessionNotifier{n: o.deps.Notifier, sessionID: sessionID}

	text, err := o.turn(ctx, sessionID, content, notify)
	elapsed := timer.StopWithThreshold(slowTurn)
	audit.TurnEnd(elapsed, len(text), err)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("Turn for session %s failed after %s: %v", sessionID, elapsed, err)
		return "", err
	}
	logging.Get(logging.CategoryOrchestrator).StructuredLog("INFO", "turn finished", map[string]interface{}{
		"session":     sessionID,
		"duration_ms": elapsed.Milliseconds(),
		"chars":       len(text),
	})
	return text, nil
}

// sessionNotifier tags every event of one turn with its session.
type sessionNotifier struct {
	n         types.Notifier
	sessionID string
}

func (s sessionNotifier) ThinkingStep(label string) { s.n.ThinkingStep(s.sessionID, label) }
func (s sessionNotifier) ChatToken(token string)    { s.n.ChatToken(s.sessionID, token) }

// storeUnavailable reports a store that could not serve a read. Unknown
// sessions are the caller's mistake and stay validation errors.
func storeUnavailable(what string, err error) error {
	return types.ConfigurationError(opTurn, fmt.Errorf("%w: failed to load %s: %v", types.ErrNotReady, what, err))
}

func (o *orchestrator) turn(ctx context.Context, sessionID, content string, notify sessionNotifier) (string, error) {
	notify.ThinkingStep(StepAnalyzing)

	session, err := o.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return "", types.ValidationError(opTurn, "unknown session %s", sessionID)
		}
		return "", storeUnavailable("session", err)
	}
	history, err := o.deps.Store.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return "", storeUnavailable("history", err)
	}
	if _, err := o.deps.Store.AddMessage(ctx, sessionID, types.RoleUser, content); err != nil {
		return "", types.InternalError(opTurn, fmt.Errorf("failed to persist user message: %w", err))
	}

	if o.opts.AnalyzeIntent {
		notify.ThinkingStep(StepIntent + "|" + o.analyze(ctx, session, content))
	}
	contexts := o.searchContext(ctx, sessionID, content, notify)

	if o.opts.HistoryTokenBudget > 0 {
		history = o.opts.Tokens.TrimHistory(history, o.opts.HistoryTokenBudget)
	}
	prompt := BuildPrompt(history, contexts, content)
	logging.OrchestratorDebug("Prompt assembled: history=%d contexts=%d len=%d", len(history), len(contexts), len(prompt))

	notify.ThinkingStep(StepGeneratingResponse)
	text, err := o.generate(ctx, session, prompt, notify)
	if err != nil {
		return "", err
	}

	if _, err := o.deps.Store.AddMessage(ctx, sessionID, types.RoleAssistant, text); err != nil {
		return "", types.InternalError(opTurn, fmt.Errorf("failed to persist assistant message: %w", err))
	}
	if o.opts.Usage != nil {
		o.opts.Usage.Track(sessionID, o.opts.Backend, "turn", o.opts.Tokens.Count(prompt), o.opts.Tokens.Count(text))
	}
	return text, nil
}

// analyze asks the generator for a short summary of what content wants. A
// failed call yields StepComplexAnalysis and the turn goes on.
func (o *orchestrator) analyze(ctx context.Context, session *types.Session, content string) string {
	summary, err := o.deps.Generator.Generate(ctx, types.GenerateRequest{
		Prompt:       "Analyze this request and summarize the intent (max 10 words). Request: " + content,
		SystemPrompt: session.ModelConfig.SystemPrompt,
		Temperature:  session.ModelConfig.Temperature,
	})
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("Intent analysis failed: %v", err)
		}
		return StepComplexAnalysis
	}
	return summary
}

// searchContext looks up chunks relevant to content. A failed search is
// reported to the notifier and the turn continues without context.
func (o *orchestrator) searchContext(ctx context.Context, sessionID, content string, notify sessionNotifier) []string {
	if o.deps.Retriever == nil {
		return nil
	}
	notify.ThinkingStep(StepSearchingContext)

	var filters []string
	if o.opts.SessionScopedSearch {
		filters = []string{"session:" + sessionID}
	}
	results, err := o.deps.Retriever.Search(ctx, content, filters, o.opts.SearchLimit)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Context search failed, continuing without context: %v", err)
		notify.ThinkingStep(StepSearchError)
		return nil
	}
	if len(results) == 0 {
		notify.ThinkingStep(StepNoDocuments)
		return nil
	}
	notify.ThinkingStep(fmt.Sprintf("%s|%d", StepDocumentsFound, len(results)))
	return results
}

// generate streams the completion, forwarding each token to the notifier,
// and returns the accumulated text. Tokens that carry an error are logged and
// skipped; an error from the stream itself fails the turn.
func (o *orchestrator) generate(ctx context.Context, session *types.Session, prompt string, notify sessionNotifier) (string, error) {
	req := types.GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: session.ModelConfig.SystemPrompt,
		Temperature:  session.ModelConfig.Temperature,
	}

	sink := types.NewTokenSink(o.opts.TokenBuffer)
	defer sink.Close()

	finished := make(chan error, 1)
	o.work.Go(func() {
		var (
			pc  panics.Catcher
			err error
		)
		pc.Try(func() { err = o.deps.Generator.StreamGenerate(ctx, req, sink) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		finished <- err
	})

	var b strings.Builder
	consume := func(tok types.Token) {
		if tok.Err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("Skipping stream token: %v", tok.Err)
			return
		}
		b.WriteString(tok.Text)
		notify.ChatToken(tok.Text)
	}

	for {
		select {
		case tok := <-sink.Tokens():
			consume(tok)
		case err := <-finished:
			// The producer is done; whatever it buffered is still ours.
			for {
				select {
				case tok := <-sink.Tokens():
					consume(tok)
				default:
					if err != nil {
						return "", asTyped(err)
					}
					return b.String(), nil
				}
			}
		}
	}
}

func asTyped(err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.InternalError(opTurn, err)
}
