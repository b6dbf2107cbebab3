package models

import "time"

// SessionStatus represents the lifecycle state of the underlying process
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusExited  SessionStatus = "exited"
)

// ActivityState classifies what a session is doing, independent of lifecycle.
// Busy and Idle only apply while the session is running.
type ActivityState string

const (
	ActivityBusy   ActivityState = "busy"
	ActivityIdle   ActivityState = "idle"
	ActivityExited ActivityState = "exited"
)

// SessionKind distinguishes directly-spawned PTY processes from tmux-backed sessions
type SessionKind string

const (
	KindPTY  SessionKind = "pty"
	KindTmux SessionKind = "tmux"
)

// TaskStatus tracks the busy/idle UX sub-state for a session
// @Description Task tracking details reported alongside activity state
type TaskStatus struct {
	CurrentTool  *string    `json:"current_tool,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	ToolUseCount int        `json:"tool_use_count"`
	TokenCount   int        `json:"token_count"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SpawnRequest describes a session to create
// @Description Parameters for spawning a new terminal session
type SpawnRequest struct {
	// Name is required for tmux sessions and must be unique; ignored for pty sessions
	Name    string            `json:"name,omitempty"`
	Kind    SessionKind       `json:"kind,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cols    uint16            `json:"cols,omitempty"`
	Rows    uint16            `json:"rows,omitempty"`
	// AutoRun is written to the process as the first input line once it starts
	AutoRun string `json:"auto_run,omitempty"`
}

// SessionInfo is the JSON view of a session returned by the management API
// @Description Session state including activity and task tracking
type SessionInfo struct {
	ID                   string        `json:"id"`
	Kind                 SessionKind   `json:"kind"`
	Command              string        `json:"command"`
	Args                 []string      `json:"args,omitempty"`
	Cwd                  string        `json:"cwd"`
	Cols                 uint16        `json:"cols"`
	Rows                 uint16        `json:"rows"`
	Status               SessionStatus `json:"status"`
	ExitCode             *int          `json:"exit_code,omitempty"`
	Activity             ActivityState `json:"activity"`
	ExternallyControlled bool          `json:"externally_controlled"`
	Task                 TaskStatus    `json:"task"`
	CreatedAt            time.Time     `json:"created_at"`
	LastActivity         time.Time     `json:"last_activity"`
	LastOutput           time.Time     `json:"last_output"`
	ClientCount          int           `json:"client_count"`
}

// ActivityStatus is the activity view of one session
// @Description Activity state, control mode, and task tracking
type ActivityStatus struct {
	Activity             ActivityState `json:"activity"`
	ExternallyControlled bool          `json:"externally_controlled"`
	Task                 TaskStatus    `json:"task"`
}

// SessionDetail is SessionInfo plus the trailing output window
type SessionDetail struct {
	SessionInfo
	Output string `json:"output"`
}

// PollResponse is the stateless polling transport payload.
// Offset is the total output length; clients pass it back on the next request.
// @Description Output produced since the given offset, plus current state
type PollResponse struct {
	Output   string        `json:"output"`
	Offset   int64         `json:"offset"`
	Status   SessionStatus `json:"status"`
	Activity ActivityState `json:"activity"`
}
