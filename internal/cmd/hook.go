package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/termbridge/termbridge/internal/models"
)

// agentHookEvent is the payload agent tooling pipes to this command
type agentHookEvent struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	ToolName      string `json:"tool_name"`
	TokenCount    int    `json:"token_count"`
}

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Forward agent hook events to the server (internal use)",
	Hidden: true,
	Long: `# 🪝 Forward Agent Hook Events

Reads a JSON hook event from stdin and forwards it to the termbridge server
for activity tracking.

**Note:** This command is intended to be wired into agent tooling hooks; it
exits silently on malformed input so it never breaks the caller.

## 📋 Supported Events
- **UserPromptSubmit** - a prompt was submitted
- **PreToolUse** / **PostToolUse** - a tool run started or finished
- **Notification** / **Stop** - the agent is waiting or done
- **SessionEnd** - the agent session ended`,
	Example: `  # Forward an event (typically called by the agent's hook config)
  echo '{"hook_event_name":"Stop","cwd":"/path/to/project"}' | termbridge hook

  # Test against a non-default server
  TERMBRIDGE_HOST=myserver:8080 termbridge hook < event.json`,
	RunE: runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func runHook(cmd *cobra.Command, args []string) error {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(input) == 0 {
		return nil
	}

	// Exit silently on malformed input to avoid breaking the caller
	var event agentHookEvent
	if err := json.Unmarshal(input, &event); err != nil {
		return nil
	}

	switch models.HookEventKind(event.HookEventName) {
	case models.HookPromptSubmit, models.HookPreToolUse, models.HookPostToolUse,
		models.HookNotification, models.HookStop, models.HookSessionEnd:
	default:
		return nil
	}
	if event.SessionID == "" && event.CWD == "" {
		return nil
	}

	host := os.Getenv("TERMBRIDGE_HOST")
	if host == "" {
		host = "localhost:8080"
	}

	payload := models.HookEvent{
		Event:      models.HookEventKind(event.HookEventName),
		SessionID:  event.SessionID,
		Cwd:        event.CWD,
		ToolName:   event.ToolName,
		TokenCount: event.TokenCount,
	}
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	url := fmt.Sprintf("http://%s/v1/hooks", host)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(payloadData))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("TERMBRIDGE_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body)

	return nil
}
