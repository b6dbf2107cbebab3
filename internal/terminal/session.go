package terminal

import (
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/persist"
)

// Client is one attached viewer of a session. Send must be safe for
// concurrent use; a failed send only drops that client.
type Client interface {
	ID() string
	Send(msg models.ServerMessage) error
}

// clientQueueSize bounds a viewer's outbound queue. A viewer that falls this
// many messages behind is dropped instead of stalling the session worker.
const clientQueueSize = 256

// attachment pairs a client with a buffered outbound queue drained by its own
// goroutine. Messages are queued under s.mu to preserve ordering against the
// worker's fan-out; the network writes themselves happen off the lock.
type attachment struct {
	client   Client
	queue    chan models.ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func newAttachment(c Client) *attachment {
	return &attachment{
		client: c,
		queue:  make(chan models.ServerMessage, clientQueueSize),
		stop:   make(chan struct{}),
	}
}

// enqueue never blocks; it reports false when the queue is full
func (a *attachment) enqueue(msg models.ServerMessage) bool {
	select {
	case a.queue <- msg:
		return true
	default:
		return false
	}
}

func (a *attachment) halt() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Session is one logical interactive shell: a backend process, a bounded
// output buffer, an activity detector, and a set of attached clients. All
// per-session mutation is serialized by a single worker goroutine consuming
// the backend event channel, plus s.mu for attach/detach and caller
// operations, so chunks from the same process are never reordered.
type Session struct {
	mu sync.RWMutex

	id      string
	kind    models.SessionKind
	command string
	args    []string
	cwd     string
	cols    uint16
	rows    uint16

	status   models.SessionStatus
	exitCode *int

	createdAt    time.Time
	lastActivity time.Time
	lastOutput   time.Time

	buffer   *OutputBuffer
	detector *Detector
	backend  Backend
	batcher  *persist.Batcher

	clients map[string]*attachment

	events chan procEvent
	done   chan struct{}

	// writeMu serializes writes and resizes to the process handle
	writeMu sync.Mutex
}

func newSession(id string, req models.SpawnRequest, backend Backend, bufCapacity int, batcher *persist.Batcher) *Session {
	now := time.Now()
	s := &Session{
		id:           id,
		kind:         req.Kind,
		command:      req.Command,
		args:         req.Args,
		cwd:          normalizePath(req.Cwd),
		cols:         req.Cols,
		rows:         req.Rows,
		status:       models.StatusRunning,
		createdAt:    now,
		lastActivity: now,
		lastOutput:   now,
		buffer:       NewOutputBuffer(bufCapacity),
		backend:      backend,
		batcher:      batcher,
		clients:      make(map[string]*attachment),
		events:       make(chan procEvent, eventBufferSize),
		done:         make(chan struct{}),
	}
	if s.cols == 0 {
		s.cols = 80
	}
	if s.rows == 0 {
		s.rows = 24
	}
	s.detector = NewDetector(nil, s.onActivityChange)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Kind returns whether the session is pty- or tmux-backed
func (s *Session) Kind() models.SessionKind { return s.kind }

// Cwd returns the normalized working directory
func (s *Session) Cwd() string { return s.cwd }

// Done is closed once the process has exited and the worker drained
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the per-session worker. For every output chunk it performs, in
// order: buffer append, activity re-evaluation, fan-out to attached clients,
// and batched persistence. State is updated before fan-out so a late-joining
// client always sees a consistent snapshot.
func (s *Session) run() {
	for ev := range s.events {
		switch ev.kind {
		case evData:
			s.handleData(ev.data)
		case evExit:
			s.handleExit(ev.code)
			return
		}
	}
}

func (s *Session) handleData(data []byte) {
	s.mu.Lock()
	s.buffer.Append(data)
	now := time.Now()
	s.lastOutput = now
	s.lastActivity = now
	tail := s.buffer.Tail(tailWindow)
	clients := s.clientListLocked()
	s.mu.Unlock()

	// heuristic re-evaluation happens on every chunk, not just at quiescence
	s.detector.OnOutput(tail)

	s.fanOut(clients, models.ServerMessage{Type: models.MsgOutput, Data: string(data)})
	s.batcher.Append(s.ID(), data)
}

func (s *Session) handleExit(code int) {
	s.mu.Lock()
	s.status = models.StatusExited
	s.exitCode = &code
	s.lastActivity = time.Now()
	clients := s.clientListLocked()
	s.mu.Unlock()

	s.detector.MarkExited()

	s.fanOut(clients, models.ServerMessage{Type: models.MsgExit, Code: &code})

	status := models.StatusExited
	s.batcher.UpdateStatus(s.ID(), persist.StatusUpdate{Status: &status, ExitCode: &code})

	close(s.done)
}

// onActivityChange fans a state-change notification out to every attached
// client and to the store, with the task sub-state snapshot
func (s *Session) onActivityChange(state models.ActivityState, task models.TaskStatus) {
	s.mu.RLock()
	clients := s.clientListLocked()
	s.mu.RUnlock()

	taskCopy := task
	s.fanOut(clients, models.ServerMessage{Type: models.MsgActivity, State: state, Task: &taskCopy})
	s.batcher.UpdateStatus(s.ID(), persist.StatusUpdate{Activity: &state, Task: &taskCopy})
}

func (s *Session) clientListLocked() []*attachment {
	out := make([]*attachment, 0, len(s.clients))
	for _, a := range s.clients {
		out = append(out, a)
	}
	return out
}

// fanOut queues one message for every attached viewer. A viewer whose queue
// is full is too far behind to catch up and is dropped instead of holding
// everyone else back.
func (s *Session) fanOut(atts []*attachment, msg models.ServerMessage) {
	for _, a := range atts {
		if !a.enqueue(msg) {
			logger.Debugf("client %s cannot keep up with session %s, dropping", a.client.ID(), s.ID())
			s.Detach(a.client.ID())
		}
	}
}

// writeLoop drains one viewer's queue onto its connection. It runs until the
// attachment is halted or a send fails; either way only this viewer is
// affected.
func (s *Session) writeLoop(a *attachment) {
	for {
		select {
		case <-a.stop:
			return
		case msg := <-a.queue:
			if err := a.client.Send(msg); err != nil {
				logger.Debugf("dropping client %s from session %s: %v", a.client.ID(), s.ID(), err)
				s.Detach(a.client.ID())
				return
			}
		}
	}
}

// Attach registers a client and replays the buffered history to it. The
// history snapshot and registration are atomic with respect to the worker's
// fan-out, so the client sees history followed by exactly the live chunks
// emitted after attach.
func (s *Session) Attach(c Client) {
	a := newAttachment(c)

	s.mu.Lock()
	s.clients[c.ID()] = a

	// queued under the lock: the worker collects its fan-out list under the
	// same lock, so no live chunk can land ahead of the history frame. The
	// queue is fresh so these enqueues cannot fill it.
	a.enqueue(models.ServerMessage{Type: models.MsgHistory, Data: string(s.buffer.Snapshot())})
	if s.status == models.StatusExited {
		a.enqueue(models.ServerMessage{Type: models.MsgExit, Code: s.exitCode})
	}
	s.mu.Unlock()

	go s.writeLoop(a)
}

// Detach removes a client; the process and other clients are unaffected
func (s *Session) Detach(clientID string) {
	s.mu.Lock()
	a := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if a != nil {
		a.halt()
	}
}

// ClientCount returns the number of attached clients
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Write sends input bytes to the process
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	if s.status != models.StatusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.backend.Write(p)
	return err
}

// Resize changes the terminal dimensions; rejected once the process exited
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	if s.status != models.StatusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.backend.Resize(cols, rows)
}

// ApplyHook routes an external activity event to the detector. A session-end
// event also terminates the process so activity and lifecycle state stay in
// step.
func (s *Session) ApplyHook(ev models.HookEvent) {
	s.detector.ApplyHook(ev)
	if ev.Event == models.HookSessionEnd {
		_ = s.backend.Kill()
	}
}

// activityLocked reconciles the detector's state with the lifecycle state.
// The worker flips status before it tells the detector about an exit, so an
// exited session always reports exited activity no matter which of the two
// updates a reader lands between.
func (s *Session) activityLocked() models.ActivityState {
	if s.status == models.StatusExited {
		return models.ActivityExited
	}
	return s.detector.State()
}

// Poll implements the stateless polling transport
func (s *Session) Poll(offset int64) models.PollResponse {
	out, newOffset := s.buffer.Since(offset)

	s.mu.RLock()
	status := s.status
	activity := s.activityLocked()
	s.mu.RUnlock()

	return models.PollResponse{
		Output:   string(out),
		Offset:   newOffset,
		Status:   status,
		Activity: activity,
	}
}

// Info returns a point-in-time JSON view of the session
func (s *Session) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return models.SessionInfo{
		ID:                   s.id,
		Kind:                 s.kind,
		Command:              s.command,
		Args:                 s.args,
		Cwd:                  s.cwd,
		Cols:                 s.cols,
		Rows:                 s.rows,
		Status:               s.status,
		ExitCode:             s.exitCode,
		Activity:             s.activityLocked(),
		ExternallyControlled: s.detector.ExternallyControlled(),
		Task:                 s.detector.Task(),
		CreatedAt:            s.createdAt,
		LastActivity:         s.lastActivity,
		LastOutput:           s.lastOutput,
		ClientCount:          len(s.clients),
	}
}

// Detail is Info plus the sanitized trailing output window
func (s *Session) Detail() models.SessionDetail {
	return models.SessionDetail{
		SessionInfo: s.Info(),
		Output:      string(s.buffer.Snapshot()),
	}
}

// Scrollback renders the trailing window through a terminal emulator
func (s *Session) Scrollback(format string) string {
	s.mu.RLock()
	cols, rows := s.cols, s.rows
	s.mu.RUnlock()
	return RenderScrollback(s.buffer.Snapshot(), int(cols), int(rows), format)
}

// setID is called by the registry during rename, under the registry lock
func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Session) isStale(threshold time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == models.StatusExited &&
		len(s.clients) == 0 &&
		time.Since(s.lastActivity) > threshold
}
