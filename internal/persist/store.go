// Package persist is the boundary to the external session store. The server
// never depends on the store being fast or available: output is batched off
// the hot path and store errors are logged and swallowed.
package persist

import (
	"time"

	"github.com/termbridge/termbridge/internal/models"
)

// OrphanExitCode marks sessions left running by a prior server lifetime
const OrphanExitCode = -1

// SessionRecord describes a session to the external store
type SessionRecord struct {
	ID        string               `json:"id"`
	Kind      models.SessionKind   `json:"kind"`
	Command   string               `json:"command"`
	Cwd       string               `json:"cwd"`
	Status    models.SessionStatus `json:"status"`
	Activity  models.ActivityState `json:"activity"`
	CreatedAt time.Time            `json:"created_at"`
}

// StatusUpdate carries partial field updates; nil fields are left untouched
type StatusUpdate struct {
	Status   *models.SessionStatus `json:"status,omitempty"`
	ExitCode *int                  `json:"exit_code,omitempty"`
	Activity *models.ActivityState `json:"activity,omitempty"`
	Task     *models.TaskStatus    `json:"task,omitempty"`
}

// Store is the external persistence collaborator
type Store interface {
	CreateSession(rec SessionRecord) error
	UpdateSessionStatus(id string, upd StatusUpdate) error
	RenameSession(oldID, newID string) error
	DeleteSession(id string) error
	AppendOutput(id string, chunk []byte) error
	// MarkOrphanedSessions flags sessions left running by a prior server
	// lifetime as abnormally exited with OrphanExitCode. Called once at startup.
	MarkOrphanedSessions() error
	Shutdown() error
}

// NopStore discards everything; used when no store is configured
type NopStore struct{}

func NewNopStore() *NopStore { return &NopStore{} }

func (*NopStore) CreateSession(SessionRecord) error            { return nil }
func (*NopStore) UpdateSessionStatus(string, StatusUpdate) error { return nil }
func (*NopStore) RenameSession(string, string) error           { return nil }
func (*NopStore) DeleteSession(string) error                   { return nil }
func (*NopStore) AppendOutput(string, []byte) error            { return nil }
func (*NopStore) MarkOrphanedSessions() error                  { return nil }
func (*NopStore) Shutdown() error                              { return nil }
