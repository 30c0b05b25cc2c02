package nodeagent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"

	"github.com/cuemby/flotilla/pkg/metrics"
)

const (
	// Headline auth header; value is APIKey(token)
	apiKeyHeader = "X-API-Key"

	// Transport retry shape for transient failures
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second

	// Consecutive transport failures before the node's breaker opens.
	// High enough that one operation's retries never trip it alone.
	breakerThreshold = 15
	breakerCooldown  = 60 * time.Second
)

// ErrUnreachable marks a node that did not answer after all retries.
// The monitor promotes this to a node health failure.
var ErrUnreachable = errors.New("node unreachable")

// Error is a non-2xx answer from the agent itself. The node was
// reachable; the operation was refused.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
}

// APIKey derives the agent auth header value from the provider token:
// lowercase hex of HMAC-SHA256 over the fixed "node-agent:" message.
func APIKey(token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte("node-agent:"))
	return hex.EncodeToString(mac.Sum(nil))
}

// Client talks to the node-agent daemon on a single node. One client
// per (node IP, port); connections are pooled by the transport and
// released on Close.
type Client struct {
	host    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a client for one node. The token is the cloud
// provider token the agent derives its key from.
func NewClient(nodeIP string, port int, token string) *Client {
	host := net.JoinHostPort(nodeIP, strconv.Itoa(port))
	return &Client{
		host:    nodeIP,
		baseURL: "http://" + host,
		apiKey:  APIKey(token),
		http:    &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        nodeIP,
			MaxRequests: 1,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > breakerThreshold
			},
		}),
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Ping checks agent liveness.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.call(ctx, "ping", http.MethodGet, "/ping", nil, &out, 3, 5*time.Second); err != nil {
		return err
	}
	if !out.OK {
		return &Error{StatusCode: http.StatusOK, Message: "ping returned ok=false"}
	}
	return nil
}

// UploadImage streams an image blob to the node. The blob must be
// seekable so a retried attempt can rewind it.
func (c *Client) UploadImage(ctx context.Context, name string, blob io.ReadSeeker) error {
	timer := metrics.NewTimer()
	err := c.retry(ctx, "upload_image", 2, func() error {
		if _, err := blob.Seek(0, io.SeekStart); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to rewind image blob: %w", err))
		}
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/images/"+url.PathEscape(name), blob)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		return c.send(req, nil)
	})
	c.observe("upload_image", timer, err)
	return err
}

// StartRequest carries the container launch arguments.
type StartRequest struct {
	Name          string   `json:"name"`
	Image         string   `json:"image"`
	Env           []string `json:"env"`
	ContainerPort int      `json:"container_port"`
	HostPort      int      `json:"host_port"`
	Volumes       []string `json:"volumes"`
}

// StartContainer creates and starts a container, returning the agent's
// container id.
func (c *Client) StartContainer(ctx context.Context, req *StartRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "start_container", http.MethodPost, "/containers", req, &out, 3, 60*time.Second)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// RemoveContainer drains and removes a container. With drain, the
// agent stops routing, waits up to drainTimeout, then stops and
// removes; without it the container is killed immediately.
func (c *Client) RemoveContainer(ctx context.Context, name string, drain bool, drainTimeout time.Duration) error {
	q := url.Values{}
	q.Set("drain", strconv.FormatBool(drain))
	q.Set("drain_timeout", strconv.Itoa(int(drainTimeout.Seconds())))
	path := "/containers/" + url.PathEscape(name) + "?" + q.Encode()
	return c.call(ctx, "remove_container", http.MethodDelete, path, nil, nil, 3, drainTimeout+30*time.Second)
}

// RestartContainer restarts a container with its original arguments.
func (c *Client) RestartContainer(ctx context.Context, name string) error {
	path := "/containers/" + url.PathEscape(name) + "/restart"
	return c.call(ctx, "restart_container", http.MethodPost, path, nil, nil, 3, 60*time.Second)
}

// HealthResult is the agent's verdict on one container.
type HealthResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Healthy reports whether the probe passed.
func (r *HealthResult) Healthy() bool {
	return r.Status == "healthy"
}

// Health probes a container: TCP connect on containerPort, plus an
// HTTP 2xx on httpPath when set. An unhealthy verdict is a successful
// call; only transport failures error.
func (c *Client) Health(ctx context.Context, name string, containerPort int, httpPath string, timeout time.Duration) (*HealthResult, error) {
	q := url.Values{}
	q.Set("container_port", strconv.Itoa(containerPort))
	q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	if httpPath != "" {
		q.Set("http_path", httpPath)
	}
	path := "/containers/" + url.PathEscape(name) + "/health?" + q.Encode()

	var out HealthResult
	if err := c.call(ctx, "health", http.MethodGet, path, nil, &out, 2, timeout+5*time.Second); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigureNginx rewrites the node's nginx upstream block for domain
// to the given backends and reloads nginx.
func (c *Client) ConfigureNginx(ctx context.Context, privateIPs []string, hostPort int, domain string) error {
	body := struct {
		PrivateIPs []string `json:"private_ips"`
		HostPort   int      `json:"host_port"`
		Domain     string   `json:"domain"`
	}{privateIPs, hostPort, domain}
	return c.call(ctx, "configure_nginx", http.MethodPost, "/nginx", body, nil, 3, 30*time.Second)
}

// CleanupImages removes stored image versions under prefix beyond the
// newest keepLatest, returning how many were removed.
func (c *Client) CleanupImages(ctx context.Context, prefix string, keepLatest int) (int, error) {
	body := struct {
		Prefix     string `json:"prefix"`
		KeepLatest int    `json:"keep_latest"`
	}{prefix, keepLatest}
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.call(ctx, "cleanup_images", http.MethodPost, "/images/cleanup", body, &out, 2, 2*time.Minute)
	if err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// call runs one JSON request/response exchange with retries, a
// per-attempt timeout, and metrics.
func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}, attempts uint, timeout time.Duration) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	timer := metrics.NewTimer()
	err := c.retry(ctx, op, attempts, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.send(req, out)
	})
	c.observe(op, timer, err)
	return err
}

// retry wraps fn in bounded exponential backoff, retrying only
// transient failures, and promotes exhausted transport errors to
// ErrUnreachable.
func (c *Client) retry(ctx context.Context, op string, attempts uint, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
	)
	if err == nil {
		return nil
	}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return fmt.Errorf("%s on node %s: %w", op, c.host, err)
	}
	if ctx.Err() != nil {
		// The caller's deadline ended the loop, not the node
		return fmt.Errorf("%s on node %s: %w", op, c.host, err)
	}
	return fmt.Errorf("%s on node %s: %w: %v", op, c.host, ErrUnreachable, err)
}

// send performs the round trip through the node's circuit breaker and
// decodes the response. The breaker counts transport failures only; an
// error answer from a reachable agent is not a breaker failure.
func (c *Client) send(req *http.Request, out interface{}) error {
	req.Header.Set(apiKeyHeader, c.apiKey)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return err
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

func (c *Client) observe(op string, timer *metrics.Timer, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.AgentRequestsTotal.WithLabelValues(op, result).Inc()
	timer.ObserveDurationVec(metrics.AgentRequestDuration, op)
}

// decodeError turns a non-2xx response into *Error, preferring the
// agent's {"error": "..."} body.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = string(bytes.TrimSpace(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error}
}

// transient reports whether a failure is worth another attempt:
// connect errors, timeouts, 5xx, 408, and 429 are; other agent
// answers, cancellation, and an open breaker are not. A per-attempt
// timeout stays retriable; the parent deadline is enforced by
// retry.Context between attempts.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.StatusCode >= 500 ||
			agentErr.StatusCode == http.StatusRequestTimeout ||
			agentErr.StatusCode == http.StatusTooManyRequests
	}
	// Everything else is transport-level: refused, reset, DNS, EOF
	return true
}
