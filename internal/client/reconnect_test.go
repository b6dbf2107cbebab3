package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termbridge/termbridge/internal/models"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	initial := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, Backoff(i+1, initial, max), "attempt %d", i+1)
	}
}

func TestBackoffClampsBadAttempt(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, 30*time.Second))
	assert.Equal(t, time.Second, Backoff(-5, time.Second, 30*time.Second))
}

func TestBackoffInitialAboveCap(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(1, 10*time.Second, 5*time.Second))
}

func TestPollOnce(t *testing.T) {
	var gotOffsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOffsets = append(gotOffsets, r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(models.PollResponse{
			Output:   "polled output",
			Offset:   42,
			Status:   models.StatusRunning,
			Activity: models.ActivityBusy,
		})
	}))
	defer srv.Close()

	var outputs []string
	e := NewEngine(Options{
		BaseURL:   srv.URL,
		SessionID: "abc",
	}, Handlers{
		OnOutput: func(data string) { outputs = append(outputs, data) },
	})

	exited, err := e.pollOnce()
	require.NoError(t, err)
	assert.False(t, exited)
	assert.Equal(t, []string{"polled output"}, outputs)

	// the returned offset is carried into the next request
	_, err = e.pollOnce()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "42"}, gotOffsets)
}

func TestPollOnceExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.PollResponse{
			Status:   models.StatusExited,
			Activity: models.ActivityExited,
		})
	}))
	defer srv.Close()

	exitCode := 0
	called := false
	e := NewEngine(Options{BaseURL: srv.URL, SessionID: "abc"}, Handlers{
		OnExit: func(code int) { called = true; exitCode = code },
	})

	exited, err := e.pollOnce()
	require.NoError(t, err)
	assert.True(t, exited)
	assert.True(t, called)
	assert.Equal(t, -1, exitCode)
}

func TestPollOnceSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(models.PollResponse{Status: models.StatusRunning})
	}))
	defer srv.Close()

	e := NewEngine(Options{BaseURL: srv.URL, SessionID: "abc", Token: "sekrit"}, Handlers{})
	_, err := e.pollOnce()
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekrit", gotAuth)
}

func TestEngineFallsBackToPolling(t *testing.T) {
	// plain HTTP server: websocket upgrades fail, polling succeeds
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.PollResponse{
			Output: "via polling",
			Offset: 11,
			Status: models.StatusRunning,
		})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var states []ConnState
	var outputs []string

	e := NewEngine(Options{
		BaseURL:      srv.URL,
		SessionID:    "abc",
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		MaxAttempts:  2,
		PollInterval: 5 * time.Millisecond,
	}, Handlers{
		OnState: func(s ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		OnOutput: func(data string) {
			mu.Lock()
			outputs = append(outputs, data)
			mu.Unlock()
		},
	})

	go e.Run()
	defer e.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outputs) > 0
	}, 5*time.Second, 10*time.Millisecond, "expected polled output")

	assert.Equal(t, StatePolling, e.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateConnecting)
	assert.Contains(t, states, StateReconnecting)
	assert.Contains(t, states, StatePolling)
	assert.Equal(t, "via polling", outputs[0])
}

func TestEngineCloseIsTerminal(t *testing.T) {
	e := NewEngine(Options{BaseURL: "http://127.0.0.1:1", SessionID: "x"}, Handlers{})
	e.Close()
	assert.Equal(t, StateClosed, e.State())
	// a second close is a no-op
	e.Close()
	assert.Equal(t, StateClosed, e.State())
}

func TestEngineSendWithoutConnection(t *testing.T) {
	e := NewEngine(Options{BaseURL: "http://127.0.0.1:1", SessionID: "x"}, Handlers{})
	assert.Error(t, e.SendInput("ls\n"))
	assert.Error(t, e.Resize(80, 24))
}
