package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPEngine drives the papermill sidecar over REST. The sidecar streams one
// JSON event per line while cells execute; the HTTP status of the trailing
// response decides nothing, the last event does.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: notebook runs are unbounded. Per-attempt
		// connection setup is still limited.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

func (e *HTTPEngine) Execute(ctx context.Context, spec RunSpec, events chan<- Event) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode run spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/v1/execute", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine rejected run: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var lastErr string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("malformed engine event %q: %w", line, err)
		}
		if ev.Error != "" {
			lastErr = ev.Error
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("engine stream broken: %w", err)
	}
	if lastErr != "" {
		return fmt.Errorf("notebook execution failed: %s", lastErr)
	}
	return nil
}
