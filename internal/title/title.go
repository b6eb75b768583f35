// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package title generates short conversation titles from the opening
// exchange. Title generation is best effort: every failure path leaves
// the existing title untouched and is never surfaced to the send path.
package title

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/loopmaster303/heyhihosted-sub000/internal/model"
	"github.com/loopmaster303/heyhihosted-sub000/internal/util"
)

const (
	// maxTitleWords is the word limit for generated titles.
	maxTitleWords = 5

	// maxExcerptRunes caps how much conversation text is sent to the
	// title endpoint.
	maxExcerptRunes = 2000

	// maxTriggerMessages bounds the window in which a conversation is
	// still considered fresh enough to title.
	maxTriggerMessages = 5

	requestTimeout  = 15 * time.Second
	maxResponseSize = 64 * 1024
)

// defaultTitlePrefixes are the localized placeholder prefixes the UI
// has used for untitled conversations over time.
var defaultTitlePrefixes = []string{"new ", "neue ", "neuer "}

// IsDefault reports whether title is a placeholder that should be
// replaced by a generated one.
func IsDefault(title string) bool {
	if title == model.DefaultTitle || title == "Chat" {
		return true
	}
	folded := strings.ToLower(title)
	for _, prefix := range defaultTitlePrefixes {
		if strings.HasPrefix(folded, prefix) {
			return true
		}
	}
	return false
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator asks a remote endpoint for conversation titles.
type Generator struct {
	endpoint   string
	credential string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a Generator for the given title endpoint.
func New(endpoint, credential string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		endpoint:   endpoint,
		credential: credential,
		httpClient: &http.Client{Timeout: requestTimeout},
		// A burst of three covers rapid-fire new chats; after that one
		// request per ten seconds.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		logger:  logger,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (g *Generator) WithHTTPClient(client *http.Client) *Generator {
	g.httpClient = client
	return g
}

// WithLimiter sets a custom rate limiter.
func (g *Generator) WithLimiter(l *rate.Limiter) *Generator {
	g.limiter = l
	return g
}

// ShouldGenerate reports whether conv is in the titling window: it
// still carries a placeholder title, has a complete first exchange,
// and is young enough that the opening still describes it.
func (g *Generator) ShouldGenerate(conv *model.Conversation) bool {
	if conv == nil || !IsDefault(conv.Title) {
		return false
	}
	n := conv.MessageCount()
	return n >= 1 && n < maxTriggerMessages && conv.HasExchange()
}

// Generate returns a cleaned title for conv, or ok=false when no title
// could be produced. It never returns an error; failures are logged
// and swallowed.
func (g *Generator) Generate(ctx context.Context, conv *model.Conversation) (title string, ok bool) {
	if g.endpoint == "" {
		return "", false
	}
	if !g.limiter.Allow() {
		g.logger.Debug("title generation rate limited",
			zap.String("conversation", conv.ID))
		return "", false
	}

	raw, err := g.request(ctx, excerpt(conv))
	if err != nil {
		g.logger.Warn("title generation failed",
			zap.String("conversation", conv.ID),
			zap.Error(err))
		return "", false
	}

	cleaned := Clean(raw)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

// request calls the title endpoint with the conversation excerpt.
func (g *Generator) request(ctx context.Context, messages string) (string, error) {
	payload, err := json.Marshal(struct {
		Messages string `json:"messages"`
	}{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.credential != "" {
		req.Header.Set("Authorization", "Bearer "+g.credential)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("title endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.Title, nil
}

// excerpt flattens the opening messages into the text blob the title
// endpoint expects.
func excerpt(conv *model.Conversation) string {
	var b strings.Builder
	for _, msg := range conv.Messages {
		if msg.IsError {
			continue
		}
		b.WriteString(msg.Role.String())
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return util.TruncateRunesNoEllipsis(b.String(), maxExcerptRunes)
}

// =============================================================================
// CLEANUP
// =============================================================================

// titlePrefixes are boilerplate lead-ins models like to add.
var titlePrefixes = []string{"Concise Title:", "Title:"}

// Clean normalizes a raw model-produced title: Unicode normalization,
// boilerplate prefix and quote stripping, and a hard word limit.
func Clean(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.TrimSpace(s)

	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}

	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	return util.FirstWords(s, maxTitleWords, "…")
}
