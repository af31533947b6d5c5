// Package server exposes the orchestration core over HTTP: JSON endpoints for
// sessions, turns and the knowledge base, plus a server-sent event stream of
// thinking steps and tokens.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// Chat runs conversation turns and ingestion. The orchestrator handle
// implements it.
type Chat interface {
	ProcessUserMessage(ctx context.Context, sessionID, content string) (string, error)
	IngestContent(ctx context.Context, content, metadata string) (string, error)
}

// Knowledge exposes the retrieval operations that bypass the orchestrator.
// The retrieval handle implements it.
type Knowledge interface {
	Search(ctx context.Context, query string, filters []string, limit int) ([]string, error)
	Delete(ctx context.Context, metadata string) (int64, error)
	Stats(ctx context.Context) (types.RetrievalStats, error)
}

// Options configures the listener.
type Options struct {
	Addr           string
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server is the HTTP surface.
type Server struct {
	opts      Options
	chat      Chat
	knowledge Knowledge
	sessions  types.SessionStore
	events    *Broadcaster
}

// New creates a server. events may be nil, in which case /api/events is not
// served.
func New(opts Options, chat Chat, knowledge Knowledge, sessions types.SessionStore, events *Broadcaster) *Server {
	return &Server{
		opts:      opts,
		chat:      chat,
		knowledge: knowledge,
		sessions:  sessions,
		events:    events,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.withSessions(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions", s.withSessions(s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.withSessions(s.handleListMessages))
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("DELETE /api/documents", s.handleDelete)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.events != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}
	return loggingMiddleware(mux)
}

// withSessions answers 503 while no conversation store is attached.
func (s *Server) withSessions(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			writeError(w, types.ConfigurationError("sessions", types.ErrNotReady))
			return
		}
		next(w, r)
	}
}

// Serve listens on the configured address until ctx ends, then shuts down
// gracefully. At most MaxConnections connections are served at once.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	// Request contexts end on shutdown so open event streams let go.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logging.API("HTTP server listening on %s (max_connections=%d)", ln.Addr(), s.opts.MaxConnections)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		cancelBase()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		logging.API("HTTP server stopped")
		return err
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.APIDebug("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
