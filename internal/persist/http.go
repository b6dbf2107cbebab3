package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStore talks JSON over HTTP to the external session store.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store client for the given base URL
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) CreateSession(rec SessionRecord) error {
	return s.do(http.MethodPost, "/sessions", rec)
}

func (s *HTTPStore) UpdateSessionStatus(id string, upd StatusUpdate) error {
	return s.do(http.MethodPatch, "/sessions/"+id, upd)
}

func (s *HTTPStore) RenameSession(oldID, newID string) error {
	payload := map[string]string{"id": newID}
	return s.do(http.MethodPost, "/sessions/"+oldID+"/rename", payload)
}

func (s *HTTPStore) DeleteSession(id string) error {
	return s.do(http.MethodDelete, "/sessions/"+id, nil)
}

func (s *HTTPStore) AppendOutput(id string, chunk []byte) error {
	payload := map[string]string{"output": string(chunk)}
	return s.do(http.MethodPost, "/sessions/"+id+"/output", payload)
}

func (s *HTTPStore) MarkOrphanedSessions() error {
	return s.do(http.MethodPost, "/sessions/mark-orphaned", map[string]int{"exit_code": OrphanExitCode})
}

func (s *HTTPStore) Shutdown() error { return nil }

func (s *HTTPStore) do(method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal store payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build store request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("store returned %d for %s %s", resp.StatusCode, method, path)
	}
	return nil
}
