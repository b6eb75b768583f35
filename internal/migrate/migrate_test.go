// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loopmaster303/heyhihosted-sub000/internal/kv"
	"github.com/loopmaster303/heyhihosted-sub000/internal/store"
)

const legacyBlob = `[
	{
		"id": "conv-1",
		"title": "Old chat",
		"toolType": "long language loops",
		"createdAt": "2024-03-01T10:00:00Z",
		"updatedAt": 1709290800000,
		"messages": [
			{"id": "m1", "role": "user", "content": "hello", "timestamp": "2024-03-01T10:00:00Z"},
			{"id": "m2", "role": "assistant",
			 "content": [{"type": "text", "text": "hi"}, {"type": "text", "text": "there"}],
			 "timestamp": 1709290805000}
		]
	},
	{
		"id": "conv-2",
		"title": "",
		"messages": []
	}
]`

func newFixture(t *testing.T) (kv.Store, *store.Bulk, *Service) {
	t.Helper()
	kvStore, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	bulk, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bulk.Close() })
	return kvStore, bulk, New(kvStore, bulk, nil)
}

func TestRun_MigratesLegacyData(t *testing.T) {
	kvStore, bulk, svc := newFixture(t)
	ctx := context.Background()

	require.NoError(t, kvStore.Set(LegacyKey, []byte(legacyBlob)))
	require.NoError(t, svc.Run(ctx))

	// Flag set, backup is the verbatim blob.
	flag, err := kvStore.Get(FlagKey)
	require.NoError(t, err)
	require.Equal(t, "true", string(flag))

	backup, err := kvStore.Get(BackupKey)
	require.NoError(t, err)
	require.Equal(t, legacyBlob, string(backup))

	conv, err := bulk.LoadFull(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "Old chat", conv.Title)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "hello", conv.Messages[0].Content)
	require.Equal(t, "hi\n\nthere", conv.Messages[1].Content, "part arrays flatten to text")

	// Defaults filled in for sparse records.
	conv2, err := bulk.LoadFull(ctx, "conv-2")
	require.NoError(t, err)
	require.NotEmpty(t, conv2.Title)
	require.NotZero(t, conv2.CreatedAt)
}

func TestRun_Idempotent(t *testing.T) {
	kvStore, bulk, svc := newFixture(t)
	ctx := context.Background()

	require.NoError(t, kvStore.Set(LegacyKey, []byte(legacyBlob)))
	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Run(ctx))

	metas, err := bulk.LoadAllMeta(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2, "second run must not duplicate anything")
}

func TestRun_NoLegacyDataSetsFlag(t *testing.T) {
	kvStore, bulk, svc := newFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Run(ctx))

	_, err := kvStore.Get(FlagKey)
	require.NoError(t, err, "flag should be set even without legacy data")

	metas, err := bulk.LoadAllMeta(ctx)
	require.NoError(t, err)
	require.Empty(t, metas)
}

func TestRun_CorruptBlobBacksUpAndLeavesFlagUnset(t *testing.T) {
	kvStore, _, svc := newFixture(t)
	ctx := context.Background()

	require.NoError(t, kvStore.Set(LegacyKey, []byte("{not json")))

	err := svc.Run(ctx)
	require.Error(t, err)

	var merr *MigrationError
	require.True(t, errors.As(err, &merr))

	// Backup happens before the parse attempt.
	backup, berr := kvStore.Get(BackupKey)
	require.NoError(t, berr)
	require.Equal(t, "{not json", string(backup))

	// Flag stays unset so the next start retries.
	_, ferr := kvStore.Get(FlagKey)
	require.True(t, errors.Is(ferr, kv.ErrKeyNotFound))
}

func TestRun_RetryAfterFailureCompletes(t *testing.T) {
	kvStore, bulk, svc := newFixture(t)
	ctx := context.Background()

	// First attempt fails on corrupt data.
	require.NoError(t, kvStore.Set(LegacyKey, []byte("broken")))
	require.Error(t, svc.Run(ctx))

	// Operator fixes the blob; retry succeeds and sets the flag.
	require.NoError(t, kvStore.Set(LegacyKey, []byte(legacyBlob)))
	require.NoError(t, svc.Run(ctx))

	_, err := kvStore.Get(FlagKey)
	require.NoError(t, err)

	metas, err := bulk.LoadAllMeta(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
}
