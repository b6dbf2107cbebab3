package terminal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/persist"
)

// Registry owns every live session. It is an explicit instance created by the
// composition root, so tests can run isolated registries side by side.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg     *config.Config
	batcher *persist.Batcher

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewRegistry creates a registry and starts its background cleanup loop
func NewRegistry(cfg *config.Config, batcher *persist.Batcher) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		cfg:         cfg,
		batcher:     batcher,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Create spawns a new session. PTY sessions get a generated UUID; tmux
// sessions are addressed by their name, which must be unique.
func (r *Registry) Create(req models.SpawnRequest) (*Session, error) {
	var id string
	var backend Backend

	switch req.Kind {
	case models.KindTmux:
		if req.Name == "" {
			return nil, fmt.Errorf("%w: tmux session requires a name", ErrInvalidRequest)
		}
		id = req.Name
		backend = newTmuxBackend(r.cfg.TmuxPath, req)
	case models.KindPTY, "":
		req.Kind = models.KindPTY
		id = uuid.New().String()
		backend = newPTYBackend(req, r.cfg.Shell)
	default:
		return nil, fmt.Errorf("%w: unknown session kind %q", ErrInvalidRequest, req.Kind)
	}

	sess := newSession(id, req, backend, r.cfg.BufferCapacity, r.batcher)

	// reserve the identifier before spawning so concurrent creates with the
	// same tmux name lose cleanly
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s already exists", ErrConflict, id)
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := backend.Start(sess.events); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to spawn session: %w", err)
	}
	go sess.run()

	logger.Infof("created %s session %s (cmd=%q cwd=%s)", req.Kind, id, req.Command, sess.Cwd())

	r.batcher.CreateSession(persist.SessionRecord{
		ID:        id,
		Kind:      req.Kind,
		Command:   req.Command,
		Cwd:       sess.Cwd(),
		Status:    models.StatusRunning,
		Activity:  models.ActivityBusy,
		CreatedAt: time.Now(),
	})

	if req.AutoRun != "" {
		if err := sess.Write([]byte(req.AutoRun + "\n")); err != nil {
			logger.Warnf("auto-run write to session %s failed: %v", id, err)
		}
	}

	return sess, nil
}

// Get returns the session with the given id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns a point-in-time view of every session
func (r *Registry) List() []models.SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Rename re-keys a session. Fails with a conflict when the new id is taken;
// pending output under the old id is flushed before the store sees the new
// one.
func (r *Registry) Rename(oldID, newID string) error {
	if newID == "" || oldID == newID {
		return fmt.Errorf("%w: invalid rename target %q", ErrConflict, newID)
	}

	r.mu.Lock()
	sess, ok := r.sessions[oldID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if _, taken := r.sessions[newID]; taken {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s already exists", ErrConflict, newID)
	}
	delete(r.sessions, oldID)
	r.sessions[newID] = sess
	sess.setID(newID)
	r.mu.Unlock()

	r.batcher.Rename(oldID, newID)
	logger.Infof("renamed session %s to %s", oldID, newID)
	return nil
}

// Kill terminates a session and removes it. The removal happens first, so a
// racing second kill observes not-found rather than killing twice.
func (r *Registry) Kill(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	r.killSession(sess)
	r.batcher.Delete(sess.ID())
	logger.Infof("killed session %s", id)
	return nil
}

func (r *Registry) killSession(sess *Session) {
	if sess.Kind() == models.KindTmux {
		if err := killTmuxSession(r.cfg.TmuxPath, sess.ID()); err != nil {
			logger.Debugf("tmux kill-session %s: %v", sess.ID(), err)
		}
	}
	if err := sess.backend.Kill(); err != nil {
		logger.Debugf("kill session %s: %v", sess.ID(), err)
	}
}

// FindByCwd returns sessions whose working directory matches the given path.
// A session matches when its cwd equals the path or is an ancestor of it. A
// session running in a subdirectory of the path does not match: a session in
// a parent covers work in its children, not the other way around.
func (r *Registry) FindByCwd(path string) []*Session {
	path = normalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if cwdCovers(s.Cwd(), path) {
			out = append(out, s)
		}
	}
	return out
}

// HandleHook routes an external activity event to a session. Dispatch is by
// explicit session id first, then by working-directory match; events that
// resolve to nothing are rejected rather than guessed at.
func (r *Registry) HandleHook(ev models.HookEvent) error {
	if ev.SessionID != "" {
		sess, err := r.Get(ev.SessionID)
		if err != nil {
			return err
		}
		sess.ApplyHook(ev)
		return nil
	}

	if ev.Cwd != "" {
		matches := r.FindByCwd(ev.Cwd)
		if len(matches) > 0 {
			for _, sess := range matches {
				sess.ApplyHook(ev)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: no session matches event %q", ErrNotFound, ev.Event)
}

// cleanupLoop reaps exited sessions that nobody is watching anymore
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapStale()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *Registry) reapStale() {
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.isStale(r.cfg.StalenessThreshold) {
			delete(r.sessions, id)
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		logger.Infof("reaping stale session %s", s.ID())
		r.batcher.Delete(s.ID())
	}
}

// Shutdown kills every session, stops the cleanup loop, and flushes
// persistence. Kill happens before flush so final output makes it to the
// store.
func (r *Registry) Shutdown() {
	close(r.stopCleanup)
	<-r.cleanupDone

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.killSession(s)
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			logger.Warnf("session %s did not exit before shutdown deadline", s.ID())
		}
	}

	r.batcher.Shutdown()
}

// normalizePath strips trailing separators so path comparisons are exact
func normalizePath(p string) string {
	if p == "" {
		return p
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// cwdCovers reports whether a session cwd covers the given path: equal, or a
// strict ancestor of it
func cwdCovers(cwd, path string) bool {
	if cwd == "" || path == "" {
		return false
	}
	if cwd == path {
		return true
	}
	if cwd == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, cwd+"/")
}
