package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/models"
)

// ConnState is the reconnection engine's connection lifecycle state
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StatePolling      ConnState = "polling"
	StateClosed       ConnState = "closed"
)

// Backoff returns the delay before reconnect attempt k (1-based): the initial
// delay doubled per attempt, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Handlers are the engine's upcalls. Nil handlers are skipped. OnHistory
// receives the full buffered snapshot and replaces any prior output; it fires
// on every successful (re)connect.
type Handlers struct {
	OnHistory  func(data string)
	OnOutput   func(data string)
	OnExit     func(code int)
	OnActivity func(state models.ActivityState, task *models.TaskStatus)
	OnState    func(state ConnState)
}

// Options configures a reconnection engine
type Options struct {
	BaseURL   string // http(s) server base, e.g. http://localhost:8080
	SessionID string
	Token     string

	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PollInterval time.Duration
}

// Engine maintains a live view of one session across connection failures. It
// prefers the WebSocket transport and reconnects with exponential backoff; if
// the socket cannot be re-established it degrades permanently to polling.
// Process exit is terminal: the engine stops rather than reconnect to a dead
// session.
type Engine struct {
	opts     Options
	handlers Handlers
	httpc    *http.Client

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	attempts int
	offset   int64
	cols     uint16
	rows     uint16

	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine creates a reconnection engine; Run starts it
func NewEngine(opts Options, handlers Handlers) *Engine {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Engine{
		opts:     opts,
		handlers: handlers,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		state:    StateConnecting,
		done:     make(chan struct{}),
	}
}

// Run drives the engine until the session exits or Close is called
func (e *Engine) Run() {
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.setState(StateConnecting)
		conn, err := e.dial()
		if err == nil {
			e.mu.Lock()
			e.conn = conn
			e.attempts = 0
			e.mu.Unlock()
			e.setState(StateConnected)

			e.sendResizeIfKnown()
			if terminal := e.readLoop(conn); terminal {
				e.Close()
				return
			}
			e.mu.Lock()
			e.conn = nil
			e.mu.Unlock()
		}

		e.mu.Lock()
		e.attempts++
		attempts := e.attempts
		e.mu.Unlock()

		if attempts > e.opts.MaxAttempts {
			logger.Warnf("giving up on websocket after %d attempts, falling back to polling", e.opts.MaxAttempts)
			e.pollLoop()
			return
		}

		e.setState(StateReconnecting)
		delay := Backoff(attempts, e.opts.InitialDelay, e.opts.MaxDelay)
		logger.Debugf("reconnect attempt %d in %s", attempts, delay)
		select {
		case <-time.After(delay):
		case <-e.done:
			return
		}
	}
}

// Close stops the engine and releases the connection
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.mu.Lock()
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
		}
		e.mu.Unlock()
		e.setState(StateClosed)
	})
}

// State returns the current connection state
func (e *Engine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SendInput forwards input to the session over the live socket
func (e *Engine) SendInput(data string) error {
	return e.send(models.ClientMessage{Type: models.MsgInput, Data: data})
}

// Resize records the dimensions and forwards them; they are re-sent on every
// reconnect so the server converges after an outage
func (e *Engine) Resize(cols, rows uint16) error {
	e.mu.Lock()
	e.cols, e.rows = cols, rows
	e.mu.Unlock()
	return e.send(models.ClientMessage{Type: models.MsgResize, Cols: cols, Rows: rows})
}

func (e *Engine) send(msg models.ClientMessage) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(msg)
}

func (e *Engine) setState(s ConnState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	if e.handlers.OnState != nil {
		e.handlers.OnState(s)
	}
}

func (e *Engine) dial() (*websocket.Conn, error) {
	u, err := url.Parse(e.opts.BaseURL)
	if err != nil {
		return nil, err
	}
	//nolint:staticcheck // Simple if-else is clearer than switch for two cases
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/v1/sessions/%s/ws", e.opts.SessionID)
	if e.opts.Token != "" {
		q := u.Query()
		q.Set("token", e.opts.Token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

func (e *Engine) sendResizeIfKnown() {
	e.mu.Lock()
	cols, rows := e.cols, e.rows
	e.mu.Unlock()
	if cols > 0 && rows > 0 {
		_ = e.send(models.ClientMessage{Type: models.MsgResize, Cols: cols, Rows: rows})
	}
}

// readLoop consumes server messages until the connection drops. It returns
// true when the session itself ended, which stops reconnection.
func (e *Engine) readLoop(conn *websocket.Conn) (terminal bool) {
	for {
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-e.done:
				return true
			default:
			}
			logger.Debugf("connection lost: %v", err)
			return false
		}

		switch msg.Type {
		case models.MsgHistory:
			if e.handlers.OnHistory != nil {
				e.handlers.OnHistory(msg.Data)
			}
		case models.MsgOutput:
			if e.handlers.OnOutput != nil {
				e.handlers.OnOutput(msg.Data)
			}
		case models.MsgActivity:
			if e.handlers.OnActivity != nil {
				e.handlers.OnActivity(msg.State, msg.Task)
			}
		case models.MsgPing:
			_ = conn.WriteJSON(models.ClientMessage{
				Type:      models.MsgPong,
				Timestamp: time.Now().UnixMilli(),
			})
		case models.MsgExit:
			code := -1
			if msg.Code != nil {
				code = *msg.Code
			}
			if e.handlers.OnExit != nil {
				e.handlers.OnExit(code)
			}
			return true
		}
	}
}

// pollLoop is the degraded transport: periodic offset-based fetches over
// plain HTTP. Once entered it never goes back to the socket.
func (e *Engine) pollLoop() {
	e.setState(StatePolling)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			exited, err := e.pollOnce()
			if err != nil {
				logger.Debugf("poll failed: %v", err)
				continue
			}
			if exited {
				e.Close()
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) pollOnce() (exited bool, err error) {
	e.mu.Lock()
	offset := e.offset
	e.mu.Unlock()

	reqURL := fmt.Sprintf("%s/v1/sessions/%s/output?offset=%d", e.opts.BaseURL, e.opts.SessionID, offset)
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return false, err
	}
	if e.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.opts.Token)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var poll models.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.offset = poll.Offset
	e.mu.Unlock()

	if poll.Output != "" && e.handlers.OnOutput != nil {
		e.handlers.OnOutput(poll.Output)
	}
	if poll.Status == models.StatusExited {
		if e.handlers.OnExit != nil {
			e.handlers.OnExit(-1)
		}
		return true, nil
	}
	return false, nil
}
