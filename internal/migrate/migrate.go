// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package migrate moves legacy single-blob chat history into the
// structured conversation store. The migration runs once, is guarded by
// a completion flag, and is safe to re-run after partial failure.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loopmaster303/heyhihosted-sub000/internal/kv"
	"github.com/loopmaster303/heyhihosted-sub000/internal/model"
	"github.com/loopmaster303/heyhihosted-sub000/internal/store"
)

// Storage keys. LegacyKey is the blob written by the previous storage
// format; the other two belong to this migration.
const (
	LegacyKey = "fluxflow-chatHistory"
	FlagKey   = "heyhi-idb-migration-done"
	BackupKey = "heyhi-legacy-backup"
)

// MigrationError reports a partially or fully failed migration run.
// The completion flag is left unset so the next start retries.
type MigrationError struct {
	Migrated int
	Failed   int
	Err      error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration incomplete (%d migrated, %d failed): %v", e.Migrated, e.Failed, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// LEGACY FORMAT
// =============================================================================

// legacyTime accepts both ISO-8601 strings and epoch milliseconds.
type legacyTime struct {
	time.Time
}

func (t *legacyTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognized timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("unrecognized timestamp %s", data)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

type legacyMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   model.FlexContent `json:"content"`
	Timestamp legacyTime        `json:"timestamp"`
}

type legacyConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	ToolType  string          `json:"toolType"`
	CreatedAt legacyTime      `json:"createdAt"`
	UpdatedAt legacyTime      `json:"updatedAt"`
	Messages  []legacyMessage `json:"messages"`
}

// toModel converts a legacy record, filling gaps with sane defaults.
func (lc *legacyConversation) toModel() *model.Conversation {
	conv := &model.Conversation{
		ID:        lc.ID,
		Title:     lc.Title,
		ToolType:  model.ToolType(lc.ToolType),
		CreatedAt: lc.CreatedAt.Time,
		UpdatedAt: lc.UpdatedAt.Time,
		Messages:  make([]*model.Message, 0, len(lc.Messages)),
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Title == "" {
		conv.Title = model.DefaultTitle
	}
	if conv.ToolType == "" {
		conv.ToolType = model.ToolTypeChat
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	for _, lm := range lc.Messages {
		msg := &model.Message{
			ID:        lm.ID,
			Role:      model.Role(lm.Role),
			Content:   string(lm.Content),
			Timestamp: lm.Timestamp.Time,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = conv.UpdatedAt
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv
}

// =============================================================================
// SERVICE
// =============================================================================

// Service performs the one-time legacy migration.
type Service struct {
	kv     kv.Store
	bulk   *store.Bulk
	logger *zap.Logger
}

// New creates a migration Service.
func New(kvStore kv.Store, bulk *store.Bulk, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{kv: kvStore, bulk: bulk, logger: logger}
}

// Run executes the migration if it has not completed yet.
//
// The completion flag short-circuits repeat runs. When legacy data
// exists it is backed up verbatim before any transformation, on every
// attempt, so a buggy transform can never destroy the only copy. All
// writes into the structured store are same-id upserts, which makes a
// retry after partial failure idempotent. The flag is set only after
// every conversation landed.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.kv.Get(FlagKey); err == nil {
		s.logger.Debug("migration already completed")
		return nil
	} else if !errors.Is(err, kv.ErrKeyNotFound) {
		return &MigrationError{Err: fmt.Errorf("failed to read migration flag: %w", err)}
	}

	raw, err := s.kv.Get(LegacyKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		// Nothing to migrate. Mark done so we never look again.
		if err := s.setFlag(); err != nil {
			return &MigrationError{Err: err}
		}
		s.logger.Info("no legacy chat history found, migration marked complete")
		return nil
	}
	if err != nil {
		return &MigrationError{Err: fmt.Errorf("failed to read legacy data: %w", err)}
	}

	// Backup before touching anything, on every attempt.
	if err := s.kv.Set(BackupKey, raw); err != nil {
		return &MigrationError{Err: fmt.Errorf("failed to write legacy backup: %w", err)}
	}

	var legacy []legacyConversation
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return &MigrationError{Err: fmt.Errorf("failed to parse legacy data: %w", err)}
	}

	migrated, failed := 0, 0
	var lastErr error
	for i := range legacy {
		conv := legacy[i].toModel()
		if err := s.migrateOne(ctx, conv); err != nil {
			failed++
			lastErr = err
			s.logger.Error("failed to migrate conversation",
				zap.String("conversation", conv.ID),
				zap.Error(err))
			continue
		}
		migrated++
	}

	if failed > 0 {
		return &MigrationError{Migrated: migrated, Failed: failed, Err: lastErr}
	}

	if err := s.setFlag(); err != nil {
		return &MigrationError{Migrated: migrated, Err: err}
	}

	s.logger.Info("legacy chat history migrated",
		zap.Int("conversations", migrated))
	return nil
}

// migrateOne writes metadata first, then each message.
func (s *Service) migrateOne(ctx context.Context, conv *model.Conversation) error {
	if err := s.bulk.SaveConversation(ctx, conv); err != nil {
		return err
	}
	for _, msg := range conv.Messages {
		if err := s.bulk.SaveMessage(ctx, conv.ID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) setFlag() error {
	if err := s.kv.Set(FlagKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to set migration flag: %w", err)
	}
	return nil
}
