// Package ollama is a client for the local model backend: model listing,
// single-turn chat generation and embeddings.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to an Ollama server. Timeouts are applied per call through
// the request context rather than on the http.Client.
type Client struct {
	baseURL           string
	httpClient        *http.Client
	healthTimeout     time.Duration
	generationTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets the deadlines for health probes and generation calls.
// A zero value leaves that deadline unset.
func WithTimeouts(health, generation time.Duration) Option {
	return func(c *Client) {
		c.healthTimeout = health
		c.generationTimeout = generation
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels returns the names of every model installed on the backend.
// It doubles as the liveness probe.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, c.fail(KindConnectivity, "health", 0, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(KindConnectivity, "health", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(KindConnectivity, "health", 0, fmt.Errorf("read tags response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(KindConnectivity, "health", resp.StatusCode, errors.New(truncate(string(body), 400)))
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, c.fail(KindProtocol, "health", 0, fmt.Errorf("decode tags response: %w", err))
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// HasModel reports whether model is among names. A bare model name
// matches its ":latest" tag.
func HasModel(names []string, model string) bool {
	for _, n := range names {
		if n == model || n == model+":latest" || strings.TrimSuffix(n, ":latest") == model {
			return true
		}
	}
	return false
}

// CheckModel probes the backend and verifies model is installed.
func (c *Client) CheckModel(ctx context.Context, model string) error {
	names, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	if !HasModel(names, model) {
		return &Error{Kind: KindModelUnavailable, Op: "health", Target: model, Err: ErrModelNotFound}
	}
	return nil
}

// ChatMessage is one message of a chat request.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Options are the model runtime options sent with a chat request.
type Options struct {
	NumCtx     int `json:"num_ctx,omitempty"`
	NumPredict int `json:"num_predict,omitempty"`
}

// ChatRequest is a single-turn generation request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *Options      `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Chat opens a generation call. It returns once the backend has answered
// with a success status; for non-streaming requests the whole body has
// been read and validated by then. The returned stream must be closed.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, c.generationTimeout)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, c.fail(KindConnectivity, "chat", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, c.fail(KindConnectivity, "chat", 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, c.statusError("chat", resp)
	}

	if req.Stream {
		return newChatStream(resp.Body, cancel, c), nil
	}

	defer cancel()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(KindConnectivity, "chat", 0, fmt.Errorf("read chat response: %w", err))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, c.fail(KindProtocol, "chat", 0, fmt.Errorf("decode chat response: %s", truncate(string(body), 400)))
	}
	if parsed.Error != "" {
		return nil, c.fail(KindProtocol, "chat", 0, errors.New(parsed.Error))
	}
	return newCompleteStream(parsed.Message.Content), nil
}

// statusError maps a non-success reply. Ollama reports a missing model as
// 404 with an error body.
func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return c.fail(KindProtocol, op, resp.StatusCode, errors.New(truncate(msg, 400)))
}

func (c *Client) fail(kind Kind, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: c.baseURL, StatusCode: status, Err: err}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
