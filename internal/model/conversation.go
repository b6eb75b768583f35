// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the placeholder title given to freshly started
// conversations until a real title is generated.
const DefaultTitle = "default.long.language.loop"

// =============================================================================
// TOOL TYPE
// =============================================================================

// ToolType identifies which tool surface a conversation belongs to.
type ToolType string

const (
	// ToolTypeChat is the plain text-chat surface.
	ToolTypeChat ToolType = "long language loops"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ToolType  ToolType  `json:"tool_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// Per-conversation configuration
	ModelID string `json:"selected_model_id,omitempty"`
	StyleID string `json:"selected_style_id,omitempty"`
}

// NewConversation creates a new conversation with a generated ID and
// the placeholder default title.
func NewConversation(toolType ToolType) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		ToolType:  toolType,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message and bumps UpdatedAt.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.Touch()
}

// Touch bumps UpdatedAt to now.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// RemoveMessage removes a message by ID. Returns false if not found.
func (c *Conversation) RemoveMessage(id string) bool {
	for i, msg := range c.Messages {
		if msg.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.Touch()
			return true
		}
	}
	return false
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasExchange reports whether the conversation contains at least one
// user message and one assistant message.
func (c *Conversation) HasExchange() bool {
	var user, assistant bool
	for _, msg := range c.Messages {
		switch msg.Role {
		case RoleUser:
			user = true
		case RoleAssistant:
			assistant = true
		}
		if user && assistant {
			return true
		}
	}
	return false
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// SetTitle sets the conversation title and bumps UpdatedAt.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.Touch()
}

// =============================================================================
// SNAPSHOT HELPERS
// =============================================================================

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		ToolType:  c.ToolType,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		ModelID:   c.ModelID,
		StyleID:   c.StyleID,
		Messages:  make([]*Message, len(c.Messages)),
	}

	for i, msg := range c.Messages {
		msgCopy := *msg
		clone.Messages[i] = &msgCopy
	}

	return clone
}

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return ""
	}
	last := c.LastUserMessage()
	if last == nil {
		last = c.Messages[0]
	}
	return last.Preview(100)
}

// Meta returns lightweight metadata about the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.Title,
		ToolType:     c.ToolType,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Preview:      c.Preview(),
	}
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ToolType     ToolType  `json:"tool_type"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}
