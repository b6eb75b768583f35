// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatJSON(content string) string {
	return `{"choices":[{"message":{"content":` + mustQuote(content) + `}}]}`
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_FirstTargetWins(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, chatJSON("hello there"), nil)

	g := New([]Target{{Name: "primary", Endpoint: srv.URL, Credential: "tok"}}, nil)
	res, err := g.Complete(context.Background(), Request{
		Model:    "gpt",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Content)
	require.Equal(t, "primary", res.Target)
}

func TestComplete_FallsThroughOn5xx(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newTestServer(t, http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, &aHits)
	b := newTestServer(t, http.StatusOK, chatJSON("from b"), &bHits)

	g := New([]Target{
		{Name: "a", Endpoint: a.URL, Credential: "tok-a"},
		{Name: "b", Endpoint: b.URL, Credential: "tok-b"},
	}, nil)

	res, err := g.Complete(context.Background(), Request{Model: "gpt", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "from b", res.Content)
	require.Equal(t, "b", res.Target)
	require.Equal(t, int32(1), aHits.Load())
	require.Equal(t, int32(1), bHits.Load())
}

func TestComplete_4xxFailsImmediately(t *testing.T) {
	var bHits atomic.Int32
	a := newTestServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, nil)
	b := newTestServer(t, http.StatusOK, chatJSON("never"), &bHits)

	g := New([]Target{
		{Name: "a", Endpoint: a.URL, Credential: "tok-a"},
		{Name: "b", Endpoint: b.URL, Credential: "tok-b"},
	}, nil)

	_, err := g.Complete(context.Background(), Request{Model: "gpt", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	require.Equal(t, http.StatusUnauthorized, be.Status)
	require.Equal(t, "a", be.Target)
	require.Zero(t, bHits.Load(), "later targets must not be attempted after a 4xx")
}

func TestComplete_ExhaustionReturnsLastError(t *testing.T) {
	a := newTestServer(t, http.StatusInternalServerError, `{"error":{"message":"a down"}}`, nil)
	b := newTestServer(t, http.StatusServiceUnavailable, `{"error":{"message":"b down"}}`, nil)

	g := New([]Target{
		{Name: "a", Endpoint: a.URL, Credential: "tok"},
		{Name: "b", Endpoint: b.URL, Credential: "tok"},
	}, nil)

	_, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.Error(t, err)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	require.Equal(t, "b", be.Target, "last target's error propagates")
}

func TestComplete_SkipsCredentialLessTargets(t *testing.T) {
	var bHits atomic.Int32
	b := newTestServer(t, http.StatusOK, chatJSON("from b"), &bHits)

	g := New([]Target{
		{Name: "a", Endpoint: "http://unused.invalid", Credential: ""},
		{Name: "b", Endpoint: b.URL, Credential: "tok"},
	}, nil)

	res, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.NoError(t, err)
	require.Equal(t, "from b", res.Content)
	require.Equal(t, int32(1), bHits.Load())
}

func TestComplete_NoBackendAvailable(t *testing.T) {
	g := New([]Target{
		{Name: "a", Endpoint: "http://unused.invalid", Credential: ""},
	}, nil)

	_, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.True(t, errors.Is(err, ErrNoBackendAvailable))
}

func TestComplete_ContentFilterDistinguishable(t *testing.T) {
	a := newTestServer(t, http.StatusBadRequest,
		`{"error":{"code":"content_filter","message":"request blocked"}}`, nil)

	g := New([]Target{{Name: "a", Endpoint: a.URL, Credential: "tok"}}, nil)

	_, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrContentFiltered))

	var be *BackendError
	require.True(t, errors.As(err, &be), "still a normal backend error")
	require.False(t, be.Retryable())
}

func TestComplete_PlainTextBodyIsAnswer(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, "just plain text", nil)

	g := New([]Target{{Name: "a", Endpoint: srv.URL, Credential: "tok"}}, nil)
	res, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.NoError(t, err)
	require.Equal(t, "just plain text", res.Content)
}

func TestComplete_EmbeddedErrorIn2xx(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"error":{"message":"model overloaded"}}`, nil)

	g := New([]Target{{Name: "a", Endpoint: srv.URL, Credential: "tok"}}, nil)
	_, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.Error(t, err)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	require.Contains(t, be.Message, "model overloaded")
}

func TestComplete_UnextractableIsStructuralFailure(t *testing.T) {
	var bHits atomic.Int32
	a := newTestServer(t, http.StatusOK, `{"choices":[]}`, nil)
	b := newTestServer(t, http.StatusOK, chatJSON("never"), &bHits)

	g := New([]Target{
		{Name: "a", Endpoint: a.URL, Credential: "tok"},
		{Name: "b", Endpoint: b.URL, Credential: "tok"},
	}, nil)

	_, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.True(t, errors.Is(err, ErrMalformedResponse))
	require.Zero(t, bHits.Load(), "structural failures must not fall through")
}

func TestComplete_ExtractionFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"choices text", `{"choices":[{"text":"via text"}]}`, "via text"},
		{"top-level reply", `{"reply":"via reply"}`, "via reply"},
		{"top-level content", `{"content":"via content"}`, "via content"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, http.StatusOK, tc.body, nil)
			g := New([]Target{{Name: "a", Endpoint: srv.URL, Credential: "tok"}}, nil)

			res, err := g.Complete(context.Background(), Request{Model: "gpt"})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Content)
		})
	}
}

func TestComplete_PayloadShape(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(chatJSON("ok")))
	}))
	defer srv.Close()

	g := New([]Target{{
		Name:       "a",
		Endpoint:   srv.URL,
		Credential: "tok",
		ModelMap:   map[string]string{"generic": "vendor-large"},
	}}, nil)

	_, err := g.Complete(context.Background(), Request{
		Model:        "generic",
		SystemPrompt: "be nice",
		Messages:     []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer tok", auth)
	require.Equal(t, "vendor-large", got.Model, "model id must be translated per target")
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "be nice", got.Messages[0].Content)
	require.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.False(t, got.Stream)
}

func TestComplete_TransportErrorFallsThrough(t *testing.T) {
	b := newTestServer(t, http.StatusOK, chatJSON("survivor"), nil)

	g := New([]Target{
		{Name: "a", Endpoint: "http://127.0.0.1:1", Credential: "tok"},
		{Name: "b", Endpoint: b.URL, Credential: "tok"},
	}, nil)

	res, err := g.Complete(context.Background(), Request{Model: "gpt"})
	require.NoError(t, err)
	require.Equal(t, "survivor", res.Content)
}

func TestSetTargets(t *testing.T) {
	g := New([]Target{{Name: "old"}}, nil)
	g.SetTargets([]Target{{Name: "new", Credential: "tok"}})

	targets := g.Targets()
	require.Len(t, targets, 1)
	require.Equal(t, "new", targets[0].Name)
}
