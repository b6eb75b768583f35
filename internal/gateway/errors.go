// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoBackendAvailable indicates that no target had a credential
	// configured, so no request was attempted at all.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrContentFiltered marks a request rejected by a backend's content
	// filter. It propagates like any other non-retryable backend error
	// but can be distinguished with errors.Is.
	ErrContentFiltered = errors.New("content filtered by backend")

	// ErrMalformedResponse indicates a 2xx response whose body could be
	// parsed but carried no extractable reply text.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// BackendError represents an error reported by a completion backend.
type BackendError struct {
	Target  string
	Status  int
	Code    string
	Message string

	// contentFiltered is set for 400 responses whose body matches
	// content-filter phrasing.
	contentFiltered bool
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %s error [%s] (HTTP %d): %s", e.Target, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s error (HTTP %d): %s", e.Target, e.Status, e.Message)
}

// Is supports errors.Is(err, ErrContentFiltered).
func (e *BackendError) Is(target error) bool {
	return target == ErrContentFiltered && e.contentFiltered
}

// Retryable reports whether the next target in fallback order should be
// tried. Server-side failures and rate limiting are transient; every
// 4xx is a request problem that no other target will fix.
func (e *BackendError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}
