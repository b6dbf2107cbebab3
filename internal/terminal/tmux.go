package terminal

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/termbridge/termbridge/internal/models"
)

// newTmuxBackend builds a backend whose process is a named tmux session,
// attached to through a pty-wrapped tmux client. `new-session -A` attaches if
// the session already exists and creates it otherwise, so a local user and
// this server can share the same running shell.
func newTmuxBackend(tmuxPath string, req models.SpawnRequest) *ptyBackend {
	args := []string{"new-session", "-A", "-s", req.Name}
	if req.Cwd != "" {
		args = append(args, "-c", req.Cwd)
	}
	if req.Command != "" {
		args = append(args, req.Command)
		args = append(args, req.Args...)
	}

	cmd := exec.Command(tmuxPath, args...)
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

// killTmuxSession removes the named tmux session itself, not just our
// attached client, so an explicit kill really terminates the shell.
func killTmuxSession(tmuxPath, name string) error {
	cmd := exec.Command(tmuxPath, "kill-session", "-t", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux kill-session %s: %v (%s)", name, err, out)
	}
	return nil
}
