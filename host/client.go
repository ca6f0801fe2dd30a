// Package host talks to the node host's prompt queue.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Prompt is a workflow graph keyed by node id. Each node carries at least
// "class_type" and "inputs"; other keys are passed through untouched.
type Prompt map[string]map[string]any

// LoadPrompt reads a prompt graph exported from the host as JSON.
func LoadPrompt(path string) (Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}
	var p Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", path, err)
	}
	return p, nil
}

// SetInput sets inputs[key] on node. The node must exist.
func (p Prompt) SetInput(node, key string, value any) error {
	n, ok := p[node]
	if !ok {
		return fmt.Errorf("prompt has no node %q", node)
	}
	inputs, _ := n["inputs"].(map[string]any)
	if inputs == nil {
		inputs = map[string]any{}
		n["inputs"] = inputs
	}
	inputs[key] = value
	return nil
}

// QueueResponse is the host's reply to a queued prompt.
type QueueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// Error is returned when the host rejects a prompt.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("host returned %d: %s", e.StatusCode, e.Body)
}

// Client queues prompts on a host. Submissions are paced by a limiter
// shared by all callers of the client.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRate limits submissions to perSecond prompts per second. Zero or
// negative disables pacing.
func WithRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the host at baseURL with a fresh client id.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   uuid.NewString(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClientID returns the id sent with every prompt.
func (c *Client) ClientID() string { return c.clientID }

// Queue submits p to the host's prompt queue, waiting for the limiter first.
func (c *Client) Queue(ctx context.Context, p Prompt) (*QueueResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}
	body, err := json.Marshal(map[string]any{"prompt": p, "client_id": c.clientID})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue prompt: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	var out QueueResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("prompt queued", "prompt_id", out.PromptID, "number", out.Number)
	return &out, nil
}
