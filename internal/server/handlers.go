package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

type errorResponse struct {
	Error string          `json:"error"`
	Kind  types.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.APIDebug("Failed to write response: %v", err)
	}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, types.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindConfiguration:
		return http.StatusServiceUnavailable
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindRetrieval:
		return http.StatusBadGateway
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Get(logging.CategoryAPI).Error("Request failed: %v", err)
	}
	resp := errorResponse{Error: err.Error()}
	var te *types.Error
	if errors.As(err, &te) {
		resp.Kind = te.Kind
	}
	writeJSON(w, status, resp)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.ValidationError("decode", "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	Title       string            `json:"title"`
	ModelConfig types.ModelConfig `json:"model_config"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.sessions.CreateSession(r.Context(), req.Title, req.ModelConfig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.GetSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	messages, err := s.sessions.GetSessionMessages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []types.ConversationMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply, err := s.chat.ProcessUserMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{Reply: reply})
}

type ingestRequest struct {
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

type ingestResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.chat.IngestContent(r.Context(), req.Content, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Message: msg})
}

type searchRequest struct {
	Query   string   `json:"query"`
	Filters []string `json:"filters"`
	Limit   int      `json:"limit"`
}

type searchResponse struct {
	Results []string `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, types.ValidationError("search", "query is required"))
		return
	}
	results, err := s.knowledge.Search(r.Context(), req.Query, req.Filters, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []string{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	metadata := r.URL.Query().Get("metadata")
	if metadata == "" {
		writeError(w, types.ValidationError("delete", "metadata query parameter is required"))
		return
	}
	n, err := s.knowledge.Delete(r.Context(), metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.knowledge.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleEvents streams notifications as server-sent events until the client
// disconnects or the server shuts down. ?session=<id> limits the stream to
// one session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.events.Subscribe(r.URL.Query().Get("session"))
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
