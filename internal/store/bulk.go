// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the structured on-disk conversation store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loopmaster303/heyhihosted-sub000/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a conversation id has no record.
	ErrNotFound = errors.New("conversation not found")
)

// =============================================================================
// BULK STORE
// =============================================================================

// Bulk is a SQLite-backed conversation store. Conversations and
// messages live in separate tables, which allows metadata-only listing
// without loading message bodies.
type Bulk struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	tool_type  TEXT NOT NULL,
	model_id   TEXT NOT NULL DEFAULT '',
	style_id   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	is_error        INTEGER NOT NULL DEFAULT 0,
	timestamp       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_conversations_updated
	ON conversations(updated_at DESC);
`

// Open opens (and if needed creates) the store at path.
func Open(path string) (*Bulk, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Bulk{db: db}, nil
}

// Close closes the underlying database.
func (b *Bulk) Close() error {
	return b.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// SaveConversation upserts conversation metadata. Messages are not
// touched; use SaveMessage or SaveFull for those.
func (b *Bulk) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, tool_type, model_id, style_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			tool_type  = excluded.tool_type,
			model_id   = excluded.model_id,
			style_id   = excluded.style_id,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, string(conv.ToolType), conv.ModelID, conv.StyleID,
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// SaveMessage upserts a single message belonging to conversationID.
// Same-id writes replace the existing row, so replays are idempotent.
func (b *Bulk) SaveMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, is_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			role            = excluded.role,
			content         = excluded.content,
			is_error        = excluded.is_error,
			timestamp       = excluded.timestamp`,
		msg.ID, conversationID, string(msg.Role), msg.Content, boolToInt(msg.IsError),
		msg.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}
	return nil
}

// SaveFull writes the conversation and its complete message list in one
// transaction, replacing whatever messages were stored before.
func (b *Bulk) SaveFull(ctx context.Context, conv *model.Conversation) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, tool_type, model_id, style_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			tool_type  = excluded.tool_type,
			model_id   = excluded.model_id,
			style_id   = excluded.style_id,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, string(conv.ToolType), conv.ModelID, conv.StyleID,
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages for %s: %w", conv.ID, err)
	}

	for _, msg := range conv.Messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, is_error, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, conv.ID, string(msg.Role), msg.Content, boolToInt(msg.IsError),
			msg.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Delete removes a conversation and all of its messages.
func (b *Bulk) Delete(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// LoadFull loads a conversation with all messages, ordered by timestamp.
func (b *Bulk) LoadFull(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := b.loadConversationRow(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, role, content, is_error, timestamp
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg     model.Message
			isError int
			ts      int64
		)
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &isError, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = model.Role(role)
		msg.IsError = isError != 0
		msg.Timestamp = time.UnixMilli(ts)
		conv.Messages = append(conv.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages for %s: %w", id, err)
	}

	return conv, nil
}

// LoadAllMeta returns metadata for every stored conversation, newest
// first, without loading message bodies.
func (b *Bulk) LoadAllMeta(ctx context.Context) ([]model.ConversationMeta, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.tool_type, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []model.ConversationMeta
	for rows.Next() {
		var (
			meta         model.ConversationMeta
			toolType     string
			created, upd int64
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &toolType, &created, &upd, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		meta.ToolType = model.ToolType(toolType)
		meta.CreatedAt = time.UnixMilli(created)
		meta.UpdatedAt = time.UnixMilli(upd)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return metas, nil
}

// LoadAll loads every stored conversation with messages, newest first.
func (b *Bulk) LoadAll(ctx context.Context) ([]*model.Conversation, error) {
	metas, err := b.LoadAllMeta(ctx)
	if err != nil {
		return nil, err
	}

	convs := make([]*model.Conversation, 0, len(metas))
	for _, meta := range metas {
		conv, err := b.LoadFull(ctx, meta.ID)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// loadConversationRow loads the metadata row for id.
func (b *Bulk) loadConversationRow(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv         model.Conversation
		toolType     string
		created, upd int64
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, title, tool_type, model_id, style_id, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &toolType, &conv.ModelID, &conv.StyleID, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	conv.ToolType = model.ToolType(toolType)
	conv.CreatedAt = time.UnixMilli(created)
	conv.UpdatedAt = time.UnixMilli(upd)
	conv.Messages = make([]*model.Message, 0)
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
