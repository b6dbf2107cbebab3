package models

// Wire message tags for the streaming transport. The two directions are
// closed unions: every message carries exactly one tag and the transport
// switches on it exhaustively.

// ServerMessageType tags server-to-client messages
type ServerMessageType string

const (
	MsgOutput   ServerMessageType = "output"
	MsgHistory  ServerMessageType = "history"
	MsgExit     ServerMessageType = "exit"
	MsgActivity ServerMessageType = "activity"
	MsgPing     ServerMessageType = "ping"
)

// ServerMessage is a tagged server-to-client frame
type ServerMessage struct {
	Type ServerMessageType `json:"type"`
	// Data carries output or history bytes
	Data string `json:"data,omitempty"`
	// Code carries the exit code for exit messages
	Code *int `json:"code,omitempty"`
	// State and Task accompany activity messages
	State ActivityState `json:"state,omitempty"`
	Task  *TaskStatus   `json:"task,omitempty"`
}

// ClientMessageType tags client-to-server messages
type ClientMessageType string

const (
	MsgInput  ClientMessageType = "input"
	MsgResize ClientMessageType = "resize"
	MsgPong   ClientMessageType = "pong"
)

// ClientMessage is a tagged client-to-server frame
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data string            `json:"data,omitempty"`
	Cols uint16            `json:"cols,omitempty"`
	Rows uint16            `json:"rows,omitempty"`
	// Timestamp echoes the time a ping was observed, in unix milliseconds
	Timestamp int64 `json:"timestamp,omitempty"`
}

// HookEventKind names the discrete external events that drive activity state
type HookEventKind string

const (
	HookPromptSubmit HookEventKind = "UserPromptSubmit"
	HookPreToolUse   HookEventKind = "PreToolUse"
	HookPostToolUse  HookEventKind = "PostToolUse"
	HookNotification HookEventKind = "Notification"
	HookStop         HookEventKind = "Stop"
	HookSessionEnd   HookEventKind = "SessionEnd"
)

// HookEvent is the inbound payload from the hook collaborator.
// Dispatch precedence is strict: SessionID if present, otherwise Cwd subtree
// matching, otherwise the event is rejected.
// @Description External activity event for one or more sessions
type HookEvent struct {
	Event     HookEventKind `json:"event"`
	SessionID string        `json:"session_id,omitempty"`
	Cwd       string        `json:"cwd,omitempty"`
	ToolName  string        `json:"tool_name,omitempty"`
	// TokenCount, when present, updates the task token counter
	TokenCount int `json:"token_count,omitempty"`
}
