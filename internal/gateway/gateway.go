// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Configuration constants for completion requests.
const (
	// DefaultTimeout is the default timeout for completion requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps response length when the caller does not
	// request a specific limit.
	DefaultMaxTokens = 4096

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client for all completion requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// TARGET
// =============================================================================

// Target describes one completion backend. The order of a Target slice
// encodes fallback priority: earlier targets are tried first.
type Target struct {
	// Name identifies the target in logs and results.
	Name string

	// Endpoint is the full chat-completions URL.
	Endpoint string

	// Credential is the bearer token. A target with an empty credential
	// is skipped without being counted as a failure.
	Credential string

	// ModelMap translates generic model ids to this target's naming.
	// Ids without an entry pass through unchanged.
	ModelMap map[string]string
}

// Usable reports whether the target can be attempted.
func (t Target) Usable() bool {
	return t.Credential != ""
}

// ResolveModel translates a generic model id for this target.
func (t Target) ResolveModel(model string) string {
	if mapped, ok := t.ModelMap[model]; ok {
		return mapped
	}
	return model
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is a single chat message in wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for the chat completions endpoint.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// wireError is the error object some backends embed in responses.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// chatResponse covers the response shapes the supported backends emit.
// Reply text may arrive in choices[0].message.content, choices[0].text,
// or as a top-level reply/content field.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Reply   string     `json:"reply"`
	Content string     `json:"content"`
	Error   *wireError `json:"error"`
}

// extractContent returns the reply text, trying each known location.
func (r *chatResponse) extractContent() string {
	if len(r.Choices) > 0 {
		if c := r.Choices[0].Message.Content; c != "" {
			return c
		}
		if c := r.Choices[0].Text; c != "" {
			return c
		}
	}
	if r.Reply != "" {
		return r.Reply
	}
	return r.Content
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is a completion request in backend-neutral terms.
type Request struct {
	// Model is the generic model id; targets translate it via ModelMap.
	Model string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Temperature, when non-zero, is passed through to the backend.
	Temperature float64

	// MaxTokens caps the response length. Zero means DefaultMaxTokens.
	MaxTokens int
}

// Result is a successful completion.
type Result struct {
	// Content is the reply text.
	Content string

	// Target names the backend that produced the reply.
	Target string

	// Model is the translated model id the backend was asked for.
	Model string
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway sends completion requests to an ordered list of backends,
// falling through to the next target on transient failures.
type Gateway struct {
	mu      sync.RWMutex
	targets []Target

	httpClient *http.Client
	maxTokens  int
	userAgent  string
	logger     *zap.Logger
}

// New creates a Gateway over the given targets, in fallback order.
func New(targets []Target, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		targets:    targets,
		httpClient: sharedHTTPClient,
		maxTokens:  DefaultMaxTokens,
		userAgent:  "heyhi/1.0",
		logger:     logger,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (g *Gateway) WithHTTPClient(client *http.Client) *Gateway {
	g.httpClient = client
	return g
}

// WithDefaultMaxTokens sets the max_tokens cap used when a request does
// not specify one.
func (g *Gateway) WithDefaultMaxTokens(n int) *Gateway {
	g.maxTokens = n
	return g
}

// SetTargets replaces the target list. Safe to call while completions
// are in flight; running requests keep the targets they started with.
func (g *Gateway) SetTargets(targets []Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets = targets
}

// Targets returns a copy of the current target list.
func (g *Gateway) Targets() []Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Target, len(g.targets))
	copy(out, g.targets)
	return out
}

// Complete runs the fallback chain for a single completion request.
//
// Targets without a credential are skipped. A retryable failure (5xx,
// 429, transport error) moves on to the next target; any 4xx or
// structural failure propagates immediately, since another backend
// would reject the same request the same way. When every usable target
// failed retryably, the last error is returned. When no target is
// usable at all, the error is ErrNoBackendAvailable.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Result, error) {
	messages := req.Messages
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	var lastErr error
	attempted := false

	for _, target := range g.Targets() {
		if !target.Usable() {
			g.logger.Debug("skipping target without credential",
				zap.String("target", target.Name))
			continue
		}
		attempted = true

		model := target.ResolveModel(req.Model)
		result, err := g.tryTarget(ctx, target, chatRequest{
			Model:       model,
			Messages:    messages,
			Stream:      false,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
		})
		if err == nil {
			result.Target = target.Name
			result.Model = model
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if !retryable(err) {
			g.logger.Warn("completion failed, not retryable",
				zap.String("target", target.Name),
				zap.Error(err))
			return nil, err
		}

		g.logger.Warn("completion failed, trying next target",
			zap.String("target", target.Name),
			zap.Error(err))
		lastErr = err
	}

	if !attempted {
		return nil, ErrNoBackendAvailable
	}
	return nil, lastErr
}

// tryTarget performs a single request against one target.
func (g *Gateway) tryTarget(ctx context.Context, target Target, body chatRequest) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+target.Credential)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(httpReq)

	// SECURITY: Clear Authorization header after the request so it can
	// never end up in logs.
	httpReq.Header.Del("Authorization")

	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", target.Name, err)
	}
	defer resp.Body.Close()

	raw, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, g.handleErrorResponse(target, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Some backends answer plain text on success. The body is the
		// reply.
		return &Result{Content: string(raw)}, nil
	}

	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, &BackendError{
			Target:  target.Name,
			Status:  resp.StatusCode,
			Code:    parsed.Error.Code,
			Message: parsed.Error.Message,
		}
	}

	content := parsed.extractContent()
	if content == "" {
		return nil, fmt.Errorf("%w: target %s returned no reply text", ErrMalformedResponse, target.Name)
	}

	return &Result{Content: content}, nil
}

// handleErrorResponse converts an HTTP error response to a BackendError.
func (g *Gateway) handleErrorResponse(target Target, status int, body []byte) error {
	be := &BackendError{
		Target: target.Name,
		Status: status,
	}

	var apiErr struct {
		Error wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		be.Code = apiErr.Error.Code
		be.Message = apiErr.Error.Message
	} else {
		be.Message = truncateBody(body)
	}

	if status == http.StatusBadRequest && looksContentFiltered(be.Code, be.Message) {
		be.contentFiltered = true
	}

	return be
}

// looksContentFiltered matches the phrasing backends use when a safety
// filter rejects a request.
func looksContentFiltered(code, message string) bool {
	if code == "content_filter" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "content filter") ||
		strings.Contains(lower, "content management policy") ||
		strings.Contains(lower, "content policy")
}

// retryable reports whether the fallback chain should move on to the
// next target after err.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable()
	}

	// Transport-level failures (connection refused, timeouts) leave the
	// next target worth trying.
	return true
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// truncateBody keeps error messages readable when a backend dumps a
// large body.
func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
