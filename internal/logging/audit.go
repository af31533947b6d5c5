package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of audited operation.
type AuditEventType string

const (
	AuditTurnStart     AuditEventType = "turn_start"
	AuditTurnEnd       AuditEventType = "turn_end"
	AuditGeneration    AuditEventType = "generation"
	AuditIngest        AuditEventType = "ingest"
	AuditSearch        AuditEventType = "search"
	AuditServerRestart AuditEventType = "server_restart"
)

// AuditEvent is one JSON line in the audit log.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger writes audit events, optionally scoped to a session.
type AuditLogger struct {
	sessionID string
}

// InitAudit opens the audit log file. It is a no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	file, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("%s_audit.log", date)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithSession returns an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// TurnStart records the beginning of a conversation turn.
func (a *AuditLogger) TurnStart(inputLen int) {
	a.Log(AuditEvent{
		EventType: AuditTurnStart,
		Success:   true,
		Fields:    map[string]interface{}{"input_len": inputLen},
	})
}

// TurnEnd records the outcome of a conversation turn.
func (a *AuditLogger) TurnEnd(duration time.Duration, outputLen int, err error) {
	a.Log(AuditEvent{
		EventType:  AuditTurnEnd,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Error:      errString(err),
		Fields:     map[string]interface{}{"output_len": outputLen},
	})
}

// Generation records one completion call.
func (a *AuditLogger) Generation(model string, streaming bool, duration time.Duration, err error) {
	a.Log(AuditEvent{
		EventType:  AuditGeneration,
		Target:     model,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Error:      errString(err),
		Fields:     map[string]interface{}{"streaming": streaming},
	})
}

// Ingest records an ingestion.
func (a *AuditLogger) Ingest(metadata string, chunks int, duration time.Duration, err error) {
	a.Log(AuditEvent{
		EventType:  AuditIngest,
		Target:     metadata,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Error:      errString(err),
		Fields:     map[string]interface{}{"chunks": chunks},
	})
}

// Search records a similarity search.
func (a *AuditLogger) Search(results int, cacheHit bool, duration time.Duration, err error) {
	a.Log(AuditEvent{
		EventType:  AuditSearch,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Error:      errString(err),
		Fields:     map[string]interface{}{"results": results, "cache_hit": cacheHit},
	})
}

// ServerRestart records an inference server restart attempt.
func (a *AuditLogger) ServerRestart(attempt int, err error) {
	a.Log(AuditEvent{
		EventType: AuditServerRestart,
		Success:   err == nil,
		Error:     errString(err),
		Fields:    map[string]interface{}{"attempt": attempt},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
