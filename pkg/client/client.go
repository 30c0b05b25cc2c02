package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/flotilla/pkg/api"
	"github.com/cuemby/flotilla/pkg/events"
)

// Client talks to a Flotilla control plane over HTTP. Operation calls
// stream progress lines through a callback until the terminal event
// arrives.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the control plane at baseURL, e.g.
// "http://10.0.0.5:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No transport timeout: a deploy stream stays open for the
		// length of the pipeline. The server's deadlines bound it.
		http: &http.Client{},
	}
}

// Result is the terminal state of a streamed operation.
type Result struct {
	Success      bool
	DeploymentID string
	Error        string
}

// OnLog receives each progress line as it arrives. level is one of
// info, warn, error.
type OnLog func(message, level string)

// Deploy runs a deploy and streams its progress.
func (c *Client) Deploy(ctx context.Context, body *api.DeployBody, onLog OnLog) (*Result, error) {
	return c.stream(ctx, "/v1/deploys", body, onLog)
}

// Rollback rolls a service back to the previous successful version.
func (c *Client) Rollback(ctx context.Context, serviceID string, body *api.RollbackBody, onLog OnLog) (*Result, error) {
	return c.stream(ctx, "/v1/services/"+serviceID+"/rollback", body, onLog)
}

// Scale changes the node count of a service's latest deployment.
func (c *Client) Scale(ctx context.Context, serviceID string, body *api.ScaleBody, onLog OnLog) (*Result, error) {
	return c.stream(ctx, "/v1/services/"+serviceID+"/scale", body, onLog)
}

// Ready reports whether the control plane answers its readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("control plane not ready: %s", strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) stream(ctx context.Context, path string, payload interface{}, onLog OnLog) (*Result, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("server rejected request: %s", e.Error)
	}

	return parseStream(resp.Body, onLog)
}

// parseStream reads SSE frames until the terminal complete event. A
// stream that ends without one means the connection broke mid-flight;
// the operation may still be running server-side.
func parseStream(r io.Reader, onLog OnLog) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch eventType {
			case "log":
				var ev events.LogEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					continue
				}
				if onLog != nil {
					onLog(ev.Message, string(ev.Level))
				}
			case "complete":
				var ev events.CompleteEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					return nil, fmt.Errorf("failed to decode terminal event: %w", err)
				}
				result := &Result{Success: ev.Success, DeploymentID: ev.DeploymentID}
				if ev.Error != nil {
					result.Error = *ev.Error
				}
				return result, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream closed mid-operation: %w", err)
	}
	return nil, fmt.Errorf("stream ended without a terminal event")
}
