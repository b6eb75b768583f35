// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway sends chat completion requests to an ordered list of
// OpenAI-compatible backends with automatic fallback.
//
// # Key Types
//
//   - Target: one backend (endpoint, credential, model translation)
//   - Request: a backend-neutral completion request
//   - Result: the reply plus which target and model produced it
//   - BackendError: a classified backend failure
//
// # Fallback Policy
//
// Targets are tried in order. Credential-less targets are skipped.
// Server errors (5xx) and rate limiting (429) fall through to the next
// target; client errors (4xx) and structural response failures
// propagate immediately. If no target has a credential, Complete
// returns ErrNoBackendAvailable without any network traffic.
package gateway
