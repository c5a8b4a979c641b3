// Package events defines all event types published on the hub.
package events

import (
	"encoding/json"
	"time"

	"github.com/brianly1003/sw/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	// Session lifecycle and status events
	EventTypeSessionCreated       EventType = "session_created"
	EventTypeSessionRemoved       EventType = "session_removed"
	EventTypeSessionStatusChanged EventType = "session_status_changed"
	EventTypeSessionRenamed       EventType = "session_renamed"

	// Worktree lifecycle events
	EventTypeWorktreeCreated EventType = "worktree_created"
	EventTypeWorktreeRemoved EventType = "worktree_removed"

	// Registry events
	EventTypeRegistryReloaded EventType = "registry_reloaded"

	// Connection events
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeError     EventType = "error"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetWorktree returns the worktree name (may be empty).
	GetWorktree() string

	// GetSessionID returns the session ID (may be empty).
	GetSessionID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType EventType   `json:"event"`
	EventTime time.Time   `json:"timestamp"`
	Worktree  string      `json:"worktree,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// GetWorktree returns the worktree name.
func (e *BaseEvent) GetWorktree() string {
	return e.Worktree
}

// GetSessionID returns the session ID.
func (e *BaseEvent) GetSessionID() string {
	return e.SessionID
}

// NewEvent creates a new base event with the given type and payload.
func NewEvent(eventType EventType, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewEventWithContext creates a new event with worktree and session context.
func NewEventWithContext(eventType EventType, payload interface{}, worktree, sessionID string) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Worktree:  worktree,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// --- Session event payloads ---

// SessionStatusChangedPayload is the payload for session_status_changed events.
type SessionStatusChangedPayload struct {
	SessionID string        `json:"session_id"`
	TmuxName  string        `json:"tmux_session_name"`
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
}

// SessionCreatedPayload is the payload for session_created events.
type SessionCreatedPayload struct {
	SessionID string `json:"session_id"`
	TmuxName  string `json:"tmux_session_name"`
	Label     string `json:"label"`
}

// SessionRemovedPayload is the payload for session_removed events.
type SessionRemovedPayload struct {
	SessionID string `json:"session_id"`
	TmuxName  string `json:"tmux_session_name"`
	Reason    string `json:"reason,omitempty"`
}

// SessionRenamedPayload is the payload for session_renamed events.
type SessionRenamedPayload struct {
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
}

// --- Worktree event payloads ---

// WorktreeCreatedPayload is the payload for worktree_created events.
type WorktreeCreatedPayload struct {
	Name     string   `json:"name"`
	Branch   string   `json:"branch"`
	Path     string   `json:"path"`
	Warnings []string `json:"warnings,omitempty"`
}

// WorktreeRemovedPayload is the payload for worktree_removed events.
type WorktreeRemovedPayload struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	SessionsKilled int    `json:"sessions_killed"`
}

// --- Registry / connection payloads ---

// RegistryReloadedPayload is the payload for registry_reloaded events,
// published when the state file is rewritten by another process.
type RegistryReloadedPayload struct {
	Path string `json:"path"`
}

// HeartbeatPayload is the payload for heartbeat events.
type HeartbeatPayload struct {
	ServerTime string `json:"server_time"`
	Sequence   int64  `json:"sequence"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewSessionStatusChangedEvent creates a new session_status_changed event.
func NewSessionStatusChangedEvent(worktree, sessionID, tmuxName string, from, to domain.Status) *BaseEvent {
	return NewEventWithContext(EventTypeSessionStatusChanged, SessionStatusChangedPayload{
		SessionID: sessionID,
		TmuxName:  tmuxName,
		From:      from,
		To:        to,
	}, worktree, sessionID)
}

// NewSessionCreatedEvent creates a new session_created event.
func NewSessionCreatedEvent(worktree, sessionID, tmuxName, label string) *BaseEvent {
	return NewEventWithContext(EventTypeSessionCreated, SessionCreatedPayload{
		SessionID: sessionID,
		TmuxName:  tmuxName,
		Label:     label,
	}, worktree, sessionID)
}

// NewSessionRemovedEvent creates a new session_removed event.
func NewSessionRemovedEvent(worktree, sessionID, tmuxName, reason string) *BaseEvent {
	return NewEventWithContext(EventTypeSessionRemoved, SessionRemovedPayload{
		SessionID: sessionID,
		TmuxName:  tmuxName,
		Reason:    reason,
	}, worktree, sessionID)
}

// NewSessionRenamedEvent creates a new session_renamed event.
func NewSessionRenamedEvent(worktree, sessionID, label string) *BaseEvent {
	return NewEventWithContext(EventTypeSessionRenamed, SessionRenamedPayload{
		SessionID: sessionID,
		Label:     label,
	}, worktree, sessionID)
}

// NewWorktreeCreatedEvent creates a new worktree_created event.
func NewWorktreeCreatedEvent(name, branch, path string, warnings []string) *BaseEvent {
	return NewEventWithContext(EventTypeWorktreeCreated, WorktreeCreatedPayload{
		Name:     name,
		Branch:   branch,
		Path:     path,
		Warnings: warnings,
	}, name, "")
}

// NewWorktreeRemovedEvent creates a new worktree_removed event.
func NewWorktreeRemovedEvent(name, path string, sessionsKilled int) *BaseEvent {
	return NewEventWithContext(EventTypeWorktreeRemoved, WorktreeRemovedPayload{
		Name:           name,
		Path:           path,
		SessionsKilled: sessionsKilled,
	}, name, "")
}

// NewRegistryReloadedEvent creates a new registry_reloaded event.
func NewRegistryReloadedEvent(path string) *BaseEvent {
	return NewEvent(EventTypeRegistryReloaded, RegistryReloadedPayload{Path: path})
}

// NewHeartbeatEvent creates a new heartbeat event.
func NewHeartbeatEvent(sequence int64) *BaseEvent {
	return NewEvent(EventTypeHeartbeat, HeartbeatPayload{
		ServerTime: time.Now().UTC().Format(time.RFC3339),
		Sequence:   sequence,
	})
}

// NewErrorEvent creates a new error event.
func NewErrorEvent(code, message string) *BaseEvent {
	return NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
}
