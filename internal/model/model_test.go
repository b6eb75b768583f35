// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if msg.ID == "" {
		t.Error("message should have a generated ID")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	other := NewUserMessage("hello")
	if other.ID == msg.ID {
		t.Error("two messages should not share an ID")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("backend unreachable")
	if msg.Role != RoleAssistant {
		t.Errorf("error message role = %q, want assistant", msg.Role)
	}
	if !msg.IsError {
		t.Error("IsError should be true")
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("héllo wörld, this is a long message")
	got := msg.Preview(10)
	if len([]rune(got)) > 10 {
		t.Errorf("Preview too long: %q", got)
	}

	short := NewUserMessage("hi")
	if short.Preview(10) != "hi" {
		t.Errorf("short preview = %q, want %q", short.Preview(10), "hi")
	}
}

// =============================================================================
// FLEX CONTENT TESTS
// =============================================================================

func TestFlexContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain string", `"hello"`, "hello"},
		{"single text part", `[{"type":"text","text":"hello"}]`, "hello"},
		{"multiple text parts", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\n\nb"},
		{"non-text parts dropped", `[{"type":"image_url","text":""},{"type":"text","text":"caption"}]`, "caption"},
		{"untyped part kept", `[{"text":"bare"}]`, "bare"},
		{"empty array", `[]`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var fc FlexContent
			if err := json.Unmarshal([]byte(tc.input), &fc); err != nil {
				t.Fatalf("Unmarshal(%s) failed: %v", tc.input, err)
			}
			if string(fc) != tc.want {
				t.Errorf("got %q, want %q", fc, tc.want)
			}
		})
	}

	var fc FlexContent
	if err := json.Unmarshal([]byte(`42`), &fc); err == nil {
		t.Error("expected error for numeric content")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation(t *testing.T) {
	conv := NewConversation(ToolTypeChat)

	if conv.ID == "" {
		t.Error("conversation should have a generated ID")
	}
	if conv.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", conv.Title, DefaultTitle)
	}
	if conv.ToolType != ToolTypeChat {
		t.Errorf("ToolType = %q, want %q", conv.ToolType, ToolTypeChat)
	}
	if !conv.IsEmpty() {
		t.Error("new conversation should be empty")
	}
}

func TestConversation_AddMessageBumpsUpdatedAt(t *testing.T) {
	conv := NewConversation(ToolTypeChat)
	before := conv.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	conv.AddMessage(NewUserMessage("hi"))

	if !conv.UpdatedAt.After(before) {
		t.Error("AddMessage should bump UpdatedAt")
	}
	if conv.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1", conv.MessageCount())
	}
}

func TestConversation_HasExchange(t *testing.T) {
	conv := NewConversation(ToolTypeChat)
	if conv.HasExchange() {
		t.Error("empty conversation has no exchange")
	}

	conv.AddMessage(NewUserMessage("hi"))
	if conv.HasExchange() {
		t.Error("user-only conversation has no exchange")
	}

	conv.AddMessage(NewAssistantMessage("hello"))
	if !conv.HasExchange() {
		t.Error("user+assistant should count as an exchange")
	}
}

func TestConversation_LastUserMessage(t *testing.T) {
	conv := NewConversation(ToolTypeChat)
	conv.AddMessage(NewUserMessage("first"))
	conv.AddMessage(NewAssistantMessage("reply"))
	conv.AddMessage(NewUserMessage("second"))

	last := conv.LastUserMessage()
	if last == nil || last.Content != "second" {
		t.Errorf("LastUserMessage = %v, want content %q", last, "second")
	}
}

func TestConversation_Clone(t *testing.T) {
	conv := NewConversation(ToolTypeChat)
	conv.AddMessage(NewUserMessage("hi"))
	conv.ModelID = "gpt-test"

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Title = "changed"

	if conv.Messages[0].Content != "hi" {
		t.Error("clone mutation leaked into original message")
	}
	if conv.Title == "changed" {
		t.Error("clone mutation leaked into original title")
	}
	if clone.ModelID != "gpt-test" {
		t.Error("clone should carry ModelID")
	}
}

func TestConversation_Meta(t *testing.T) {
	conv := NewConversation(ToolTypeChat)
	conv.AddMessage(NewUserMessage("question about go"))
	conv.AddMessage(NewAssistantMessage("answer"))

	meta := conv.Meta()
	if meta.ID != conv.ID {
		t.Error("meta ID mismatch")
	}
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", meta.MessageCount)
	}
	if meta.Preview == "" {
		t.Error("meta preview should not be empty")
	}
}
