// Package kv tests for the SQLite key-value substrate.
package kv

import (
	"testing"
)

// TestSetGet tests basic write and read.
func TestSetGet(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if err := store.Set("greeting", []byte("hello")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := store.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected key to be found")
	}
	if string(value) != "hello" {
		t.Errorf("Expected hello, got %q", value)
	}
}

// TestGetMissing tests reading a never-written key.
func TestGetMissing(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	_, found, err := store.Get("absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected key to be absent")
	}
}

// TestOverwrite tests that Set replaces a prior value.
func TestOverwrite(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	store.Set("k", []byte("one"))
	store.Set("k", []byte("two"))

	value, _, _ := store.Get("k")
	if string(value) != "two" {
		t.Errorf("Expected two, got %q", value)
	}
}

// TestPersistenceAcrossReopen tests that committed state survives a restart.
func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Set("device_id", []byte("dev-1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	value, found, err := reopened.Get("device_id")
	if err != nil || !found {
		t.Fatalf("Get after reopen failed: found=%v err=%v", found, err)
	}
	if string(value) != "dev-1" {
		t.Errorf("Expected dev-1, got %q", value)
	}
}

// TestSetMany tests the transactional multi-key write.
func TestSetMany(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	entries := map[string][]byte{
		"local_messages": []byte(`[]`),
		"sync_status":    []byte(`{}`),
	}
	if err := store.SetMany(entries); err != nil {
		t.Fatalf("SetMany failed: %v", err)
	}

	for key, want := range entries {
		value, found, err := store.Get(key)
		if err != nil || !found {
			t.Fatalf("Get(%q) failed: found=%v err=%v", key, found, err)
		}
		if string(value) != string(want) {
			t.Errorf("Key %q: expected %q, got %q", key, want, value)
		}
	}
}

// TestDelete tests key removal, including the missing-key no-op.
func TestDelete(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	store.Set("k", []byte("v"))
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := store.Get("k"); found {
		t.Error("Expected key to be gone")
	}

	if err := store.Delete("never-existed"); err != nil {
		t.Errorf("Deleting a missing key should not fail: %v", err)
	}
}

// TestKeys tests key listing.
func TestKeys(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	store.Set("b", []byte("2"))
	store.Set("a", []byte("1"))

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected sorted [a b], got %v", keys)
	}
}
