// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"errors"
	"testing"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := store.Set("fluxflow-chatHistory", []byte(`[]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get("fluxflow-chatHistory")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `[]` {
		t.Errorf("Get = %s, want []", got)
	}

	// Overwrite
	if err := store.Set("fluxflow-chatHistory", []byte(`[1]`)); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	got, _ = store.Get("fluxflow-chatHistory")
	if string(got) != `[1]` {
		t.Errorf("after overwrite Get = %s, want [1]", got)
	}

	if err := store.Delete("fluxflow-chatHistory"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("fluxflow-chatHistory"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrKeyNotFound", err)
	}

	// Deleting a missing key is not an error
	if err := store.Delete("never-existed"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestFileStore_UnsafeKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	key := "../outside/slash key"
	if err := store.Set(key, []byte("v")); err != nil {
		t.Fatalf("Set unsafe key failed: %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get unsafe key failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %s, want v", got)
	}
}

func TestJSONHelpers(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	type payload struct {
		Done bool `json:"done"`
	}

	if err := SetJSON(store, "heyhi-idb-migration-done", payload{Done: true}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out payload
	if err := GetJSON(store, "heyhi-idb-migration-done", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !out.Done {
		t.Error("round-tripped payload should have Done=true")
	}

	if err := GetJSON(store, "absent", &out); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetJSON(absent) = %v, want ErrKeyNotFound", err)
	}
}
