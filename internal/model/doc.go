// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: a chat with metadata, ordered messages, and
//     per-conversation model/style selection
//   - Message: a single user, assistant, or system message
//   - ConversationMeta: lightweight listing snapshot without bodies
//   - FlexContent: decodes legacy message content stored either as a
//     plain string or as an array of typed parts
//
// # Usage
//
//	conv := model.NewConversation(model.ToolTypeChat)
//	conv.AddMessage(model.NewUserMessage("hello"))
//	meta := conv.Meta()
//
// Mutating helpers bump UpdatedAt; callers that hand snapshots to
// other goroutines should use Clone.
package model
