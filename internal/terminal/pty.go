package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/termbridge/termbridge/internal/models"
)

// ptyBackend runs a command under a pseudo-terminal
type ptyBackend struct {
	cmd  *exec.Cmd
	cols uint16
	rows uint16

	mu       sync.Mutex
	ptmx     *os.File
	killOnce sync.Once
}

// newPTYBackend builds a backend for a directly-spawned process
func newPTYBackend(req models.SpawnRequest, shell string) *ptyBackend {
	command := req.Command
	if command == "" {
		command = shell
	}

	cmd := exec.Command(command, req.Args...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	return &ptyBackend{cmd: cmd, cols: cols, rows: rows}
}

// Start launches the process and begins pumping output and exit events
func (b *ptyBackend) Start(events chan<- procEvent) error {
	ptmx, err := pty.StartWithSize(b.cmd, &pty.Winsize{Cols: b.cols, Rows: b.rows})
	if err != nil {
		return fmt.Errorf("spawn %q: %w", b.cmd.Path, err)
	}

	b.mu.Lock()
	b.ptmx = ptmx
	b.mu.Unlock()

	go b.readLoop(events)
	return nil
}

func (b *ptyBackend) readLoop(events chan<- procEvent) {
	buf := make([]byte, 4096)
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			events <- procEvent{kind: evData, data: chunk}
		}
		if err != nil {
			// EOF or EIO: the process side of the pty closed
			break
		}
	}

	code := 0
	if err := b.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	events <- procEvent{kind: evExit, code: code}
}

// Write sends input bytes to the process
func (b *ptyBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	ptmx := b.ptmx
	b.mu.Unlock()
	if ptmx == nil {
		return 0, ErrNotRunning
	}
	return ptmx.Write(p)
}

// Resize changes the terminal dimensions
func (b *ptyBackend) Resize(cols, rows uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ptmx == nil {
		return ErrNotRunning
	}
	b.cols, b.rows = cols, rows
	return pty.Setsize(b.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill terminates the process unconditionally. The read loop observes the
// pty closing and delivers the exit event.
func (b *ptyBackend) Kill() error {
	b.killOnce.Do(func() {
		if b.cmd.Process != nil {
			_ = b.cmd.Process.Kill()
		}
		b.mu.Lock()
		if b.ptmx != nil {
			_ = b.ptmx.Close()
		}
		b.mu.Unlock()
	})
	return nil
}
