package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ragcore/internal/tokens"
	"ragcore/internal/types"
	"ragcore/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	messages map[string][]types.ConversationMessage
	seq      int
}

func newMemStore(sessions ...types.Session) *memStore {
	s := &memStore{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]types.ConversationMessage),
	}
	for i := range sessions {
		sess := sessions[i]
		s.sessions[sess.ID] = &sess
	}
	return s
}

func (s *memStore) GetSession(_ context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) AddMessage(_ context.Context, sessionID string, role types.Role, content string) (*types.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := types.ConversationMessage{
		ID:        fmt.Sprintf("m%d", s.seq),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Unix(int64(s.seq), 0),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return &msg, nil
}

func (s *memStore) GetSessionMessages(_ context.Context, sessionID string) ([]types.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ConversationMessage(nil), s.messages[sessionID]...), nil
}

// roles returns "role:content" pairs for a session, in insertion order.
func (s *memStore) roles(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.messages[sessionID] {
		out = append(out, string(m.Role)+":"+m.Content)
	}
	return out
}

// unavailableStore fails every read with a plain backend error.
type unavailableStore struct {
	*memStore
	err error
}

func (s *unavailableStore) GetSession(context.Context, string) (*types.Session, error) {
	return nil, s.err
}

type historylessStore struct {
	*memStore
	err error
}

func (s *historylessStore) GetSessionMessages(context.Context, string) ([]types.ConversationMessage, error) {
	return nil, s.err
}

type fakeGenerator struct {
	StreamFunc   func(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error
	GenerateFunc func(ctx context.Context, req types.GenerateRequest) (string, error)

	mu       sync.Mutex
	requests []types.GenerateRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, req)
	}
	sink := types.NewTokenSink(100)
	defer sink.Close()
	if err := g.StreamGenerate(ctx, req, sink); err != nil {
		return "", err
	}
	return "", nil
}

func (g *fakeGenerator) StreamGenerate(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.StreamFunc(ctx, req, sink)
}

func (g *fakeGenerator) lastRequest() types.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func streamTokens(texts ...string) func(context.Context, types.GenerateRequest, *types.TokenSink) error {
	return func(_ context.Context, _ types.GenerateRequest, sink *types.TokenSink) error {
		for _, t := range texts {
			sink.Send(types.Token{Text: t})
		}
		return nil
	}
}

type fakeRetriever struct {
	SearchFunc func(ctx context.Context, query string, filters []string, limit int) ([]string, error)
	IngestFunc func(ctx context.Context, content, metadata string) (string, error)
}

func (r *fakeRetriever) Ingest(ctx context.Context, content, metadata string) (string, error) {
	return r.IngestFunc(ctx, content, metadata)
}

func (r *fakeRetriever) Search(ctx context.Context, query string, filters []string, limit int) ([]string, error) {
	if r.SearchFunc == nil {
		return nil, nil
	}
	return r.SearchFunc(ctx, query, filters, limit)
}

type recordingNotifier struct {
	mu     sync.Mutex
	steps  []string
	tokens []string
	// bySession collects the tokens delivered for each session.
	bySession map[string][]string
}

func (n *recordingNotifier) ThinkingStep(_, label string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.steps = append(n.steps, label)
}

func (n *recordingNotifier) ChatToken(sessionID, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	if n.bySession == nil {
		n.bySession = make(map[string][]string)
	}
	n.bySession[sessionID] = append(n.bySession[sessionID], token)
}

func (n *recordingNotifier) snapshot() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.steps...), append([]string(nil), n.tokens...)
}

func startOrchestrator(t *testing.T, deps Deps, opts Options) *Handle {
	t.Helper()
	h := Start(deps, opts)
	t.Cleanup(h.Close)
	return h
}

var chatSession = types.Session{
	ID:    "s1",
	Title: "chat",
	ModelConfig: types.ModelConfig{
		Model:        "qwen",
		Temperature:  types.Float64(0.2),
		SystemPrompt: "Answer briefly.",
	},
}

// =============================================================================
// TURNS
// =============================================================================

func TestProcessUserMessage_FullTurn(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: streamTokens("Hel", "lo")}
	var gotFilters []string
	ret := &fakeRetriever{SearchFunc: func(_ context.Context, query string, filters []string, limit int) ([]string, error) {
		gotFilters = filters
		assert.Equal(t, "what is ragcore?", query)
		assert.Equal(t, 5, limit)
		return []string{"ctx A", "ctx B"}, nil
	}}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Retriever: ret, Notifier: notifier}, Options{})

	reply, err := h.ProcessUserMessage(context.Background(), "s1", "what is ragcore?")
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)

	assert.Equal(t, []string{"user:what is ragcore?", "assistant:Hello"}, store.roles("s1"))
	assert.Nil(t, gotFilters)

	req := gen.lastRequest()
	assert.Equal(t, "Context:\nctx A\n\nctx B\n\nUser Request: what is ragcore?", req.Prompt)
	assert.Equal(t, "Answer briefly.", req.SystemPrompt)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)

	steps, tokens := notifier.snapshot()
	want := []string{StepAnalyzing, StepSearchingContext, StepDocumentsFound + "|2", StepGeneratingResponse}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("thinking steps mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
}

func TestProcessUserMessage_HistoryPrecedesRequest(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: streamTokens("Paris.")}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Retriever: &fakeRetriever{}, Notifier: notifier}, Options{})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "Capital of France?")
	require.NoError(t, err)
	_, err = h.ProcessUserMessage(context.Background(), "s1", "And of Italy?")
	require.NoError(t, err)

	assert.Equal(t,
		"Conversation History:\nUser: Capital of France?\nAssistant: Paris.\n\nUser Request: And of Italy?",
		gen.lastRequest().Prompt)

	steps, _ := notifier.snapshot()
	assert.Contains(t, steps, StepNoDocuments)
}

func TestProcessUserMessage_SessionScopedSearch(t *testing.T) {
	store := newMemStore(chatSession)
	var gotFilters []string
	ret := &fakeRetriever{SearchFunc: func(_ context.Context, _ string, filters []string, _ int) ([]string, error) {
		gotFilters = filters
		return nil, nil
	}}
	gen := &fakeGenerator{StreamFunc: streamTokens("ok")}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Retriever: ret}, Options{SessionScopedSearch: true})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"session:s1"}, gotFilters)
	assert.Equal(t, "hello", gen.lastRequest().Prompt)
}

func TestProcessUserMessage_SearchFailureContinuesWithoutContext(t *testing.T) {
	store := newMemStore(chatSession)
	ret := &fakeRetriever{SearchFunc: func(context.Context, string, []string, int) ([]string, error) {
		return nil, types.RetrievalError("search", errors.New("index corrupt"))
	}}
	gen := &fakeGenerator{StreamFunc: streamTokens("fine")}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Retriever: ret, Notifier: notifier}, Options{})

	reply, err := h.ProcessUserMessage(context.Background(), "s1", "question")
	require.NoError(t, err)
	assert.Equal(t, "fine", reply)
	assert.Equal(t, "question", gen.lastRequest().Prompt)

	steps, _ := notifier.snapshot()
	assert.Contains(t, steps, StepSearchError)
	assert.NotContains(t, steps, StepNoDocuments)
}

func TestProcessUserMessage_GenerationFailureKeepsOnlyUserMessage(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(_ context.Context, _ types.GenerateRequest, sink *types.TokenSink) error {
		sink.Send(types.Token{Text: "partial"})
		return errors.New("connection reset")
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "question")
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, []string{"user:question"}, store.roles("s1"))
}

func TestProcessUserMessage_TypedGenerationErrorPassesThrough(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(context.Context, types.GenerateRequest, *types.TokenSink) error {
		return types.ConfigurationError("stream_generate", types.ErrNotReady)
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "question")
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestProcessUserMessage_TokenErrorsAreSkipped(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(_ context.Context, _ types.GenerateRequest, sink *types.TokenSink) error {
		sink.Send(types.Token{Text: "a"})
		sink.Send(types.Token{Err: errors.New("bad frame")})
		sink.Send(types.Token{Text: "b"})
		return nil
	}}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Notifier: notifier}, Options{})

	reply, err := h.ProcessUserMessage(context.Background(), "s1", "question")
	require.NoError(t, err)
	assert.Equal(t, "ab", reply)
	_, tokens := notifier.snapshot()
	assert.Equal(t, []string{"a", "b"}, tokens)
}

func TestProcessUserMessage_StreamLongerThanBuffer(t *testing.T) {
	store := newMemStore(chatSession)
	var want strings.Builder
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d ", i)
		want.WriteString(texts[i])
	}
	gen := &fakeGenerator{StreamFunc: streamTokens(texts...)}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{TokenBuffer: 4})

	reply, err := h.ProcessUserMessage(context.Background(), "s1", "count")
	require.NoError(t, err)
	assert.Equal(t, want.String(), reply)
}

func TestProcessUserMessage_GeneratorPanicIsInternalError(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(context.Context, types.GenerateRequest, *types.TokenSink) error {
		panic("boom")
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "question")
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
	assert.Equal(t, []string{"user:question"}, store.roles("s1"))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestProcessUserMessage_Validation(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: streamTokens("x")}

	tests := []struct {
		name      string
		deps      Deps
		sessionID string
		content   string
		kind      types.ErrorKind
	}{
		{"empty content", Deps{Store: store, Generator: gen}, "s1", "   ", types.KindValidation},
		{"missing session id", Deps{Store: store, Generator: gen}, "", "hi", types.KindValidation},
		{"unknown session", Deps{Store: store, Generator: gen}, "nope", "hi", types.KindValidation},
		{"no store", Deps{Generator: gen}, "s1", "hi", types.KindConfiguration},
		{"no generator", Deps{Store: store}, "s1", "hi", types.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startOrchestrator(t, tt.deps, Options{})
			_, err := h.ProcessUserMessage(context.Background(), tt.sessionID, tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.kind, types.KindOf(err))
		})
	}
	assert.Empty(t, store.roles("s1"))
	assert.Empty(t, store.roles("nope"))
}

func TestProcessUserMessage_StoreReadFailureIsConfigurationError(t *testing.T) {
	down := errors.New("database is locked")
	gen := &fakeGenerator{StreamFunc: streamTokens("x")}

	tests := []struct {
		name  string
		store types.ConversationStore
	}{
		{"session", &unavailableStore{memStore: newMemStore(chatSession), err: down}},
		{"history", &historylessStore{memStore: newMemStore(chatSession), err: down}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startOrchestrator(t, Deps{Store: tt.store, Generator: gen}, Options{})
			_, err := h.ProcessUserMessage(context.Background(), "s1", "hi")
			require.Error(t, err)
			assert.Equal(t, types.KindConfiguration, types.KindOf(err))
			assert.ErrorIs(t, err, types.ErrNotReady)
			assert.Contains(t, err.Error(), "database is locked")
		})
	}
}

func TestProcessUserMessage_IntentAnalysis(t *testing.T) {
	store := newMemStore(chatSession)
	var analysisPrompt string
	gen := &fakeGenerator{
		StreamFunc: streamTokens("ok"),
		GenerateFunc: func(_ context.Context, req types.GenerateRequest) (string, error) {
			analysisPrompt = req.Prompt
			return "  Asks for the capital of France \n", nil
		},
	}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Notifier: notifier}, Options{AnalyzeIntent: true})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "Capital of France?")
	require.NoError(t, err)
	assert.Contains(t, analysisPrompt, "Request: Capital of France?")

	steps, _ := notifier.snapshot()
	want := []string{StepAnalyzing, StepIntent + "|Asks for the capital of France", StepGeneratingResponse}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("thinking steps mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessUserMessage_IntentAnalysisFailureContinues(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{
		StreamFunc: streamTokens("still here"),
		GenerateFunc: func(context.Context, types.GenerateRequest) (string, error) {
			return "", types.InternalError("generate", errors.New("boom"))
		},
	}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Notifier: notifier}, Options{AnalyzeIntent: true})

	reply, err := h.ProcessUserMessage(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "still here", reply)
	steps, _ := notifier.snapshot()
	assert.Contains(t, steps, StepIntent+"|"+StepComplexAnalysis)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestProcessUserMessage_TokensAreTaggedWithTheirSession(t *testing.T) {
	store := newMemStore(types.Session{ID: "alice"}, types.Session{ID: "bob"})
	gen := &fakeGenerator{StreamFunc: func(_ context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
		for i := 0; i < 3; i++ {
			sink.Send(types.Token{Text: fmt.Sprintf("%s-%d", req.Prompt, i)})
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}}
	notifier := &recordingNotifier{}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Notifier: notifier}, Options{})

	var wg sync.WaitGroup
	for _, id := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ProcessUserMessage(context.Background(), id, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, map[string][]string{
		"alice": {"alice-0", "alice-1", "alice-2"},
		"bob":   {"bob-0", "bob-1", "bob-2"},
	}, notifier.bySession)
}

func TestProcessUserMessage_DistinctSessionsRunConcurrently(t *testing.T) {
	const (
		n     = 6
		delay = 300 * time.Millisecond
	)
	var sessions []types.Session
	for i := 0; i < n; i++ {
		sessions = append(sessions, types.Session{ID: fmt.Sprintf("s%d", i)})
	}
	store := newMemStore(sessions...)
	gen := &fakeGenerator{StreamFunc: func(_ context.Context, _ types.GenerateRequest, sink *types.TokenSink) error {
		time.Sleep(delay)
		sink.Send(types.Token{Text: "done"})
		return nil
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{})

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.ProcessUserMessage(context.Background(), fmt.Sprintf("s%d", i), "hi")
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, elapsed, 2*delay, "turns on distinct sessions must overlap")
}

func TestProcessUserMessage_SameSessionTurnsRunInOrder(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(_ context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
		time.Sleep(100 * time.Millisecond)
		idx := strings.LastIndex(req.Prompt, "turn")
		sink.Send(types.Token{Text: "re:" + req.Prompt[idx:]})
		return nil
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.ProcessUserMessage(context.Background(), "s1", "turn one")
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return len(store.roles("s1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := h.ProcessUserMessage(context.Background(), "s1", "turn two")
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, []string{
		"user:turn one",
		"assistant:re:turn one",
		"user:turn two",
		"assistant:re:turn two",
	}, store.roles("s1"))
}

func TestProcessUserMessage_CallerTimeoutDoesNotCancelTurn(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(ctx context.Context, _ types.GenerateRequest, sink *types.TokenSink) error {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		sink.Send(types.Token{Text: "late answer"})
		return nil
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{ProcessTimeout: 50 * time.Millisecond})

	_, err := h.ProcessUserMessage(context.Background(), "s1", "slow question")
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))

	assert.Eventually(t, func() bool {
		roles := store.roles("s1")
		return len(roles) == 2 && roles[1] == "assistant:late answer"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailingGeneratorLeavesOrchestratorResponsive(t *testing.T) {
	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: func(context.Context, types.GenerateRequest, *types.TokenSink) error {
		return types.InternalError("stream_generate", errors.New("server down"))
	}}
	ret := &fakeRetriever{IngestFunc: func(context.Context, string, string) (string, error) {
		return "Ingested 1 chunks", nil
	}}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen, Retriever: ret}, Options{})

	for i := 0; i < 10; i++ {
		_, err := h.ProcessUserMessage(context.Background(), "s1", fmt.Sprintf("attempt %d", i))
		require.Error(t, err)
		assert.Equal(t, types.KindInternal, types.KindOf(err))
	}
	assert.Len(t, store.roles("s1"), 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	confirmation, err := h.IngestContent(ctx, "A line long enough to become a chunk.", "")
	require.NoError(t, err)
	assert.Equal(t, "Ingested 1 chunks", confirmation)
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngestContent_DelegatesToRetriever(t *testing.T) {
	var gotContent, gotMetadata string
	ret := &fakeRetriever{IngestFunc: func(_ context.Context, content, metadata string) (string, error) {
		gotContent, gotMetadata = content, metadata
		return "Ingested 2 chunks", nil
	}}
	h := startOrchestrator(t, Deps{Retriever: ret}, Options{})

	confirmation, err := h.IngestContent(context.Background(), "body", "file:notes.md")
	require.NoError(t, err)
	assert.Equal(t, "Ingested 2 chunks", confirmation)
	assert.Equal(t, "body", gotContent)
	assert.Equal(t, "file:notes.md", gotMetadata)
}

func TestIngestContent_Errors(t *testing.T) {
	h := startOrchestrator(t, Deps{}, Options{})
	_, err := h.IngestContent(context.Background(), "body", "")
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))

	ret := &fakeRetriever{IngestFunc: func(context.Context, string, string) (string, error) {
		return "", types.RetrievalError("ingest", errors.New("disk full"))
	}}
	h = startOrchestrator(t, Deps{Retriever: ret}, Options{})
	_, err = h.IngestContent(context.Background(), "body", "")
	assert.Equal(t, types.KindRetrieval, types.KindOf(err))
}

func TestIngestContent_CallerTimeout(t *testing.T) {
	release := make(chan struct{})
	ret := &fakeRetriever{IngestFunc: func(context.Context, string, string) (string, error) {
		<-release
		return "Ingested 1 chunks", nil
	}}
	h := startOrchestrator(t, Deps{Retriever: ret}, Options{IngestTimeout: 30 * time.Millisecond})

	_, err := h.IngestContent(context.Background(), "body", "")
	assert.Equal(t, types.KindTimeout, types.KindOf(err))
	close(release)
}

func TestCallsAfterCloseAreInternalErrors(t *testing.T) {
	h := Start(Deps{}, Options{})
	h.Close()
	h.Close()

	_, err := h.ProcessUserMessage(context.Background(), "s1", "hi")
	assert.Equal(t, types.KindInternal, types.KindOf(err))
}

// =============================================================================
// PROMPT
// =============================================================================

func TestBuildPrompt(t *testing.T) {
	history := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	tests := []struct {
		name     string
		history  []types.ConversationMessage
		contexts []string
		want     string
	}{
		{"bare", nil, nil, "question"},
		{"context only", nil, []string{"a", "b"}, "Context:\na\n\nb\n\nUser Request: question"},
		{"history only", history, nil, "Conversation History:\nUser: hi\nAssistant: hello\n\nUser Request: question"},
		{
			"both", history, []string{"a"},
			"Conversation History:\nUser: hi\nAssistant: hello\n\nContext:\na\n\nUser Request: question",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPrompt(tt.history, tt.contexts, "question"))
		})
	}
}

func TestProcessUserMessage_ChargesUsage(t *testing.T) {
	tracker, err := usage.NewTracker("")
	require.NoError(t, err)
	defer tracker.Close()

	store := newMemStore(chatSession)
	gen := &fakeGenerator{StreamFunc: streamTokens("Hel", "lo")}
	h := startOrchestrator(t, Deps{Store: store, Generator: gen}, Options{Usage: tracker, Backend: "llama"})

	_, err = h.ProcessUserMessage(context.Background(), "s1", "hello there")
	require.NoError(t, err)

	want := usage.TokenCounts{
		Prompt:     int64(tokens.Estimate("hello there")),
		Completion: int64(tokens.Estimate("Hello")),
		Requests:   1,
	}
	want.Total = want.Prompt + want.Completion
	stats := tracker.Stats()
	assert.Equal(t, want, stats.BySession["s1"])
	assert.Equal(t, want, stats.ByBackend["llama"])
	assert.Equal(t, want, stats.ByOperation["turn"])
}
