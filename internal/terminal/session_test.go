package terminal

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/persist"
)

// fakeBackend is a scriptable process: tests push output and exit events
// through the same channel a real process would use.
type fakeBackend struct {
	mu     sync.Mutex
	events chan<- procEvent
	writes []byte
	cols   uint16
	rows   uint16
	killed bool
}

func (f *fakeBackend) Start(events chan<- procEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
	return nil
}

func (f *fakeBackend) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, p...)
	return len(p), nil
}

func (f *fakeBackend) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	return nil
}

func (f *fakeBackend) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.killed {
		f.killed = true
		f.events <- procEvent{kind: evExit, code: 137}
	}
	return nil
}

func (f *fakeBackend) emitOutput(data string) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events <- procEvent{kind: evData, data: []byte(data)}
}

func (f *fakeBackend) emitExit(code int) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events <- procEvent{kind: evExit, code: code}
}

func (f *fakeBackend) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.writes)
}

// fakeClient records every message it receives
type fakeClient struct {
	id string
	mu sync.Mutex

	msgs []models.ServerMessage
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msg models.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeClient) messages() []models.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ServerMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func newTestSession(t *testing.T, id string) (*Session, *fakeBackend) {
	t.Helper()

	backend := &fakeBackend{}
	sess := newSession(id, models.SpawnRequest{Kind: models.KindPTY, Command: "/bin/sh"},
		backend, 1000, persist.NewBatcher(persist.NewNopStore(), time.Second, 10000))
	require.NoError(t, backend.Start(sess.events))
	go sess.run()
	return sess, backend
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestSessionStreamsOutputToClient(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	client := &fakeClient{id: "c1"}

	sess.Attach(client)
	backend.emitOutput("hello ")
	backend.emitOutput("world")

	waitFor(t, func() bool { return len(client.messages()) >= 3 }, "expected history plus two chunks")

	msgs := client.messages()
	assert.Equal(t, models.MsgHistory, msgs[0].Type)
	assert.Empty(t, msgs[0].Data)
	assert.Equal(t, models.MsgOutput, msgs[1].Type)
	assert.Equal(t, "hello ", msgs[1].Data)
	assert.Equal(t, "world", msgs[2].Data)
}

func TestSessionLateAttachSeesHistoryThenLive(t *testing.T) {
	sess, backend := newTestSession(t, "s1")

	backend.emitOutput("early output\n")
	waitFor(t, func() bool { return sess.Info().LastOutput.After(sess.Info().CreatedAt) }, "worker consumed chunk")

	client := &fakeClient{id: "late"}
	sess.Attach(client)
	backend.emitOutput("late output\n")

	waitFor(t, func() bool { return len(client.messages()) >= 2 }, "expected history plus live chunk")

	msgs := client.messages()
	require.Equal(t, models.MsgHistory, msgs[0].Type)
	assert.Contains(t, msgs[0].Data, "early output")

	// everything after history is live output, in order and without overlap
	var live strings.Builder
	for _, m := range msgs[1:] {
		if m.Type == models.MsgOutput {
			live.WriteString(m.Data)
		}
	}
	assert.Equal(t, "late output\n", live.String())
}

func TestSessionExit(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	client := &fakeClient{id: "c1"}
	sess.Attach(client)

	backend.emitExit(0)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	info := sess.Info()
	assert.Equal(t, models.StatusExited, info.Status)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 0, *info.ExitCode)
	assert.Equal(t, models.ActivityExited, info.Activity)

	waitFor(t, func() bool {
		msgs := client.messages()
		return len(msgs) > 0 && msgs[len(msgs)-1].Type == models.MsgExit
	}, "expected a trailing exit message")

	msgs := client.messages()
	last := msgs[len(msgs)-1]
	require.NotNil(t, last.Code)
	assert.Equal(t, 0, *last.Code)

	// lifecycle and activity agree after exit
	assert.Equal(t, models.StatusExited, info.Status)
}

func TestSessionAttachAfterExitGetsExit(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	backend.emitOutput("goodbye\n")
	backend.emitExit(2)
	<-sess.Done()

	client := &fakeClient{id: "c1"}
	sess.Attach(client)
	waitFor(t, func() bool { return len(client.messages()) >= 2 }, "expected history plus exit")

	msgs := client.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MsgHistory, msgs[0].Type)
	assert.Contains(t, msgs[0].Data, "goodbye")
	assert.Equal(t, models.MsgExit, msgs[1].Type)
	require.NotNil(t, msgs[1].Code)
	assert.Equal(t, 2, *msgs[1].Code)
}

func TestSessionWriteAfterExit(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	backend.emitExit(0)
	<-sess.Done()

	assert.ErrorIs(t, sess.Write([]byte("ls\n")), ErrNotRunning)
	assert.ErrorIs(t, sess.Resize(120, 40), ErrNotRunning)
}

func TestSessionWriteAndResize(t *testing.T) {
	sess, backend := newTestSession(t, "s1")

	require.NoError(t, sess.Write([]byte("echo hi\n")))
	assert.Equal(t, "echo hi\n", backend.written())

	require.NoError(t, sess.Resize(120, 40))
	backend.mu.Lock()
	assert.Equal(t, uint16(120), backend.cols)
	assert.Equal(t, uint16(40), backend.rows)
	backend.mu.Unlock()

	info := sess.Info()
	assert.Equal(t, uint16(120), info.Cols)
	assert.Equal(t, uint16(40), info.Rows)
}

func TestSessionDetachStopsDelivery(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	client := &fakeClient{id: "c1"}
	sess.Attach(client)
	assert.Equal(t, 1, sess.ClientCount())

	sess.Detach("c1")
	assert.Equal(t, 0, sess.ClientCount())

	backend.emitOutput("unseen")
	waitFor(t, func() bool { return sess.Poll(0).Output != "" }, "worker consumed chunk")

	for _, m := range client.messages() {
		assert.NotEqual(t, "unseen", m.Data)
	}
}

func TestSessionPoll(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	backend.emitOutput("chunk one ")

	waitFor(t, func() bool { return sess.Poll(0).Offset > 0 }, "worker consumed chunk")

	resp := sess.Poll(0)
	assert.Equal(t, "chunk one ", resp.Output)
	assert.Equal(t, models.StatusRunning, resp.Status)

	// polling at the returned offset yields nothing new
	again := sess.Poll(resp.Offset)
	assert.Empty(t, again.Output)
	assert.Equal(t, resp.Offset, again.Offset)
}

func TestSessionActivityFanOut(t *testing.T) {
	sess, _ := newTestSession(t, "s1")
	client := &fakeClient{id: "c1"}
	sess.Attach(client)

	sess.ApplyHook(models.HookEvent{Event: models.HookPreToolUse, ToolName: "Bash"})

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if m.Type == models.MsgActivity {
				return true
			}
		}
		return false
	}, "expected an activity message")

	var activity *models.ServerMessage
	for _, m := range client.messages() {
		if m.Type == models.MsgActivity {
			mm := m
			activity = &mm
		}
	}
	require.NotNil(t, activity)
	assert.Equal(t, models.ActivityBusy, activity.State)
	require.NotNil(t, activity.Task)
	require.NotNil(t, activity.Task.CurrentTool)
	assert.Equal(t, "Bash", *activity.Task.CurrentTool)
	assert.Equal(t, 1, activity.Task.ToolUseCount)

	info := sess.Info()
	assert.True(t, info.ExternallyControlled)
}

func TestSessionSessionEndHookKillsProcess(t *testing.T) {
	sess, backend := newTestSession(t, "s1")

	sess.ApplyHook(models.HookEvent{Event: models.HookSessionEnd})

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session end hook did not terminate the process")
	}

	info := sess.Info()
	assert.Equal(t, models.StatusExited, info.Status)
	assert.Equal(t, models.ActivityExited, info.Activity)
	backend.mu.Lock()
	assert.True(t, backend.killed)
	backend.mu.Unlock()
}

func TestSessionManyChunksStayOrdered(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	client := &fakeClient{id: "c1"}
	sess.Attach(client)

	var want strings.Builder
	for i := 0; i < 50; i++ {
		chunk := fmt.Sprintf("line %02d\n", i)
		want.WriteString(chunk)
		backend.emitOutput(chunk)
	}

	waitFor(t, func() bool { return len(client.messages()) >= 51 }, "expected all chunks")

	var got strings.Builder
	for _, m := range client.messages() {
		if m.Type == models.MsgOutput {
			got.WriteString(m.Data)
		}
	}
	assert.Equal(t, want.String(), got.String())
}

// blockingClient stalls every send until released, like a viewer whose
// connection stopped draining
type blockingClient struct {
	id      string
	release chan struct{}
}

func (c *blockingClient) ID() string { return c.id }

func (c *blockingClient) Send(models.ServerMessage) error {
	<-c.release
	return nil
}

func TestSessionStalledClientDoesNotBlockOthers(t *testing.T) {
	sess, backend := newTestSession(t, "s1")
	stalled := &blockingClient{id: "stalled", release: make(chan struct{})}
	defer close(stalled.release)
	healthy := &fakeClient{id: "healthy"}

	sess.Attach(stalled)
	sess.Attach(healthy)

	backend.emitOutput("still flowing\n")
	waitFor(t, func() bool {
		for _, m := range healthy.messages() {
			if m.Type == models.MsgOutput && m.Data == "still flowing\n" {
				return true
			}
		}
		return false
	}, "healthy viewer should keep receiving while another is stalled")

	// a viewer that falls a full queue behind is dropped, not waited on
	for i := 0; i < clientQueueSize+2; i++ {
		backend.emitOutput("x")
	}
	waitFor(t, func() bool { return sess.ClientCount() == 1 }, "stalled viewer should be dropped")
}

func TestSessionExitedStatusWinsOverStaleActivity(t *testing.T) {
	backend := &fakeBackend{}
	sess := newSession("s1", models.SpawnRequest{Kind: models.KindPTY, Command: "/bin/sh"},
		backend, 1000, persist.NewBatcher(persist.NewNopStore(), time.Second, 10000))
	require.NoError(t, backend.Start(sess.events))

	// the worker flips status before the detector hears about the exit; a
	// reader landing between the two must not see a live activity state
	code := 1
	sess.mu.Lock()
	sess.status = models.StatusExited
	sess.exitCode = &code
	sess.mu.Unlock()

	assert.Equal(t, models.ActivityExited, sess.Info().Activity)
	assert.Equal(t, models.ActivityExited, sess.Poll(0).Activity)
}
