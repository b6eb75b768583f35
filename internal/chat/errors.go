// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound indicates the given id matches no stored
	// conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrBusy indicates the conversation is already waiting for a
	// completion. Concurrent sends are rejected, not queued.
	ErrBusy = errors.New("conversation is already awaiting a response")
)

// ValidationError reports rejected caller input.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
