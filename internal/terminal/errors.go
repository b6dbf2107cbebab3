package terminal

import "errors"

var (
	// ErrNotFound means the session identifier is absent from the registry
	ErrNotFound = errors.New("session not found")
	// ErrNotRunning means the operation requires a live process but the session has exited
	ErrNotRunning = errors.New("session not running")
	// ErrConflict means the target identifier is already taken
	ErrConflict = errors.New("session already exists")
	// ErrInvalidRequest means the request was malformed: a tmux session
	// without a name, an unknown session kind, or a hook event with no target
	ErrInvalidRequest = errors.New("invalid request")
)
