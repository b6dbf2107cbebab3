package terminal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termbridge/termbridge/internal/models"
)

// drain collects events until exit or timeout
func drain(t *testing.T, events chan procEvent) (output []byte, code int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case evData:
				output = append(output, ev.data...)
			case evExit:
				return output, ev.code
			}
		case <-deadline:
			t.Fatal("backend did not exit in time")
		}
	}
}

func TestPTYBackendRunsProcess(t *testing.T) {
	backend := newPTYBackend(models.SpawnRequest{
		Command: "/bin/echo",
		Args:    []string{"hello from pty"},
	}, "/bin/sh")

	events := make(chan procEvent, eventBufferSize)
	require.NoError(t, backend.Start(events))

	output, code := drain(t, events)
	assert.Equal(t, 0, code)
	assert.True(t, bytes.Contains(output, []byte("hello from pty")), "got %q", output)
}

func TestPTYBackendExitCode(t *testing.T) {
	backend := newPTYBackend(models.SpawnRequest{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
	}, "/bin/sh")

	events := make(chan procEvent, eventBufferSize)
	require.NoError(t, backend.Start(events))

	_, code := drain(t, events)
	assert.Equal(t, 3, code)
}

func TestPTYBackendWriteAndKill(t *testing.T) {
	backend := newPTYBackend(models.SpawnRequest{Command: "/bin/cat"}, "/bin/sh")

	events := make(chan procEvent, eventBufferSize)
	require.NoError(t, backend.Start(events))

	_, err := backend.Write([]byte("echoed\n"))
	require.NoError(t, err)

	// collect until the write comes back through the pty
	var output []byte
	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			if ev.kind == evData {
				output = append(output, ev.data...)
			}
		default:
		}
		return bytes.Contains(output, []byte("echoed"))
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, backend.Kill())
	// kill twice is safe
	require.NoError(t, backend.Kill())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.kind == evExit {
				return
			}
		case <-deadline:
			t.Fatal("killed process never reported exit")
		}
	}
}

func TestPTYBackendResize(t *testing.T) {
	backend := newPTYBackend(models.SpawnRequest{Command: "/bin/cat", Cols: 80, Rows: 24}, "/bin/sh")

	events := make(chan procEvent, eventBufferSize)
	require.NoError(t, backend.Start(events))
	defer backend.Kill()

	assert.NoError(t, backend.Resize(132, 43))
}

func TestPTYBackendSpawnFailure(t *testing.T) {
	backend := newPTYBackend(models.SpawnRequest{Command: "/no/such/binary"}, "/bin/sh")

	events := make(chan procEvent, eventBufferSize)
	assert.Error(t, backend.Start(events))
}

func TestTmuxCommandLine(t *testing.T) {
	backend := newTmuxBackend("tmux", models.SpawnRequest{
		Name:    "builds",
		Kind:    models.KindTmux,
		Command: "htop",
		Cwd:     "/srv",
	})

	args := backend.cmd.Args
	// attach-or-create addressed by name, rooted at the requested cwd
	assert.Equal(t, []string{"tmux", "new-session", "-A", "-s", "builds", "-c", "/srv", "htop"}, args)
}
