package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/termbridge/termbridge/internal/client"
	"github.com/termbridge/termbridge/internal/config"
)

var connectFlags struct {
	serverURL string
	token     string
}

var connectCmd = &cobra.Command{
	Use:   "connect <session-id>",
	Short: "Attach this terminal to a session",
	Long: `# 🔌 Connect to a Session

Attaches the current terminal to a running session. Keystrokes are forwarded
to the remote process and its output is rendered locally.

The connection survives network failures: it reconnects with exponential
backoff and falls back to HTTP polling if the socket stays down.

Press **Ctrl-Q** to detach without killing the session.`,
	Example: `  # Attach to a session by id
  termbridge connect 2f1f6a7e-3c60-4f42-9961-a3a4ef60c4e1

  # Attach to a named tmux session on another host
  termbridge connect builds --server http://ci.internal:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVarP(&connectFlags.serverURL, "server", "s", "http://localhost:8080", "Server base URL")
	connectCmd.Flags().StringVarP(&connectFlags.token, "token", "t", os.Getenv("TERMBRIDGE_TOKEN"), "Auth token")
	rootCmd.AddCommand(connectCmd)
}

// detachKey is Ctrl-Q
const detachKey = 0x11

func runConnect(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("connect requires an interactive terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	defaults := config.Default()
	exitCh := make(chan int, 1)

	engine := client.NewEngine(client.Options{
		BaseURL:      connectFlags.serverURL,
		SessionID:    sessionID,
		Token:        connectFlags.token,
		InitialDelay: defaults.ReconnectInitialDelay,
		MaxDelay:     defaults.ReconnectMaxDelay,
		MaxAttempts:  defaults.ReconnectMaxAttempts,
	}, client.Handlers{
		OnHistory: func(data string) {
			fmt.Print("\x1b[2J\x1b[H")
			os.Stdout.WriteString(data)
		},
		OnOutput: func(data string) {
			os.Stdout.WriteString(data)
		},
		OnExit: func(code int) {
			exitCh <- code
		},
		OnState: func(state client.ConnState) {
			if state == client.StateReconnecting || state == client.StatePolling {
				fmt.Fprintf(os.Stderr, "\r\n[termbridge: %s]\r\n", state)
			}
		},
	})

	go engine.Run()
	defer engine.Close()

	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = engine.Resize(uint16(cols), uint16(rows))
	}

	// forward stdin until the detach key
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 1 && buf[0] == detachKey {
				return
			}
			if err := engine.SendInput(string(buf[:n])); err != nil {
				continue
			}
		}
	}()

	select {
	case code := <-exitCh:
		term.Restore(fd, oldState)
		fmt.Printf("\nsession exited with code %d\n", code)
	case <-inputDone:
		term.Restore(fd, oldState)
		fmt.Println("\ndetached")
	}
	return nil
}
