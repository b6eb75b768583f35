// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates the conversation lifecycle: creating,
// selecting, renaming, and deleting conversations, sending messages
// through the completion gateway, and persisting every mutation.
//
// # Key Types
//
//   - Service: the conversation collection and its operations
//   - Settings: chat defaults (model, style, system prompt)
//   - SendOptions: per-send modifiers (regeneration, history override)
//   - Notifier/Event: user-facing notifications
//
// # Invariants
//
// The collection holds at most MaxStored conversations, sorted newest
// first; at capacity the stalest one is evicted before insert. There is
// exactly one source of truth for conversation state: the collection
// plus an active-conversation id. Completion results are applied to the
// conversation they were requested for, never to "whatever is active".
// A conversation accepts one in-flight send at a time (ErrBusy).
package chat
