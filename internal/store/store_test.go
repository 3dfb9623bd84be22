// Package store tests for the local record store and pending ledger.
package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kaiwenho/healthsync/internal/kv"
	"github.com/kaiwenho/healthsync/internal/models"
)

func openStore(t *testing.T) (*Store, *kv.Store, string) {
	t.Helper()
	dir := t.TempDir()
	kvStore, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv.Open failed: %v", err)
	}
	t.Cleanup(func() { kvStore.Close() })

	s, err := Open(kvStore)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	return s, kvStore, dir
}

// TestAddMessageLedgersChange tests that a local mutation enters the
// collection pending and the ledger in the same operation.
func TestAddMessageLedgersChange(t *testing.T) {
	s, _, _ := openStore(t)

	err := s.AddMessage(models.ChatMessage{
		RecordID:    "m1",
		UserMessage: "hello",
		Timestamp:   "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	messages := s.Messages()
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	if messages[0].SyncStatus != models.SyncStatusPending {
		t.Errorf("Expected pending status, got %s", messages[0].SyncStatus)
	}

	counts := s.PendingCounts()
	if counts.Messages != 1 {
		t.Errorf("Expected 1 pending message change, got %d", counts.Messages)
	}

	changes := s.PendingChanges().Messages
	if len(changes) != 1 {
		t.Fatalf("Expected 1 ledger entry, got %d", len(changes))
	}
	if changes[0].RecordKey() != "m1" {
		t.Errorf("Expected ledger entry for m1, got %q", changes[0].RecordKey())
	}
	if changes[0].Timestamp == "" {
		t.Error("Expected ledger entry timestamp to be set")
	}
}

// TestLedgerPreservesInsertionOrder tests chronological ordering.
func TestLedgerPreservesInsertionOrder(t *testing.T) {
	s, _, _ := openStore(t)

	for _, id := range []string{"d1", "d2", "d3"} {
		if err := s.AddDietRecord(models.DietRecord{RecordID: id, MealType: "lunch"}); err != nil {
			t.Fatalf("AddDietRecord(%s) failed: %v", id, err)
		}
	}

	changes := s.PendingChanges().DietRecords
	if len(changes) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(changes))
	}
	for i, want := range []string{"d1", "d2", "d3"} {
		if changes[i].RecordKey() != want {
			t.Errorf("Entry %d: expected %s, got %s", i, want, changes[i].RecordKey())
		}
	}
}

// TestRemoveByIDsClearsCollectionAndLedger tests the atomic double removal.
func TestRemoveByIDsClearsCollectionAndLedger(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddAdvice(models.HealthAdvice{ID: "a1", Content: "rest"})
	s.AddAdvice(models.HealthAdvice{ID: "a2", Content: "hydrate"})

	if err := s.RemoveByIDs(models.TableHealthAdvice, []string{"a1"}); err != nil {
		t.Fatalf("RemoveByIDs failed: %v", err)
	}

	advice := s.Advice()
	if len(advice) != 1 || advice[0].ID != "a2" {
		t.Errorf("Expected only a2 to remain, got %v", advice)
	}
	if counts := s.PendingCounts(); counts.Advice != 1 {
		t.Errorf("Expected 1 ledger entry left, got %d", counts.Advice)
	}
	if s.PendingChanges().Advice[0].RecordKey() != "a2" {
		t.Error("Expected remaining ledger entry to be a2")
	}
}

// TestRemoveByIDsUnknownTable tests the closed-enum error path.
func TestRemoveByIDsUnknownTable(t *testing.T) {
	s, _, _ := openStore(t)
	if err := s.RemoveByIDs(models.RecordTable("bogus"), []string{"x"}); err == nil {
		t.Error("Expected error for unknown table")
	}
}

// TestReplaceOverwritesAndMarksSynced tests in-place replacement.
func TestReplaceOverwritesAndMarksSynced(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddMessage(models.ChatMessage{RecordID: "m1", UserMessage: "old"})

	replacement := json.RawMessage(`{"record_id":"m1","user_message":"new","timestamp":"2024-02-01T00:00:00Z"}`)
	if err := s.Replace(models.TableChatRecords, "m1", replacement); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	messages := s.Messages()
	if messages[0].UserMessage != "new" {
		t.Errorf("Expected replaced content, got %q", messages[0].UserMessage)
	}
	if messages[0].SyncStatus != models.SyncStatusSynced {
		t.Errorf("Expected synced status, got %s", messages[0].SyncStatus)
	}
}

// TestReplaceMissingIDIsSilentNoOp tests idempotent conflict replay: the
// miss does not fail, and the diagnostic counter records it.
func TestReplaceMissingIDIsSilentNoOp(t *testing.T) {
	s, _, _ := openStore(t)

	if err := s.Replace(models.TableChatRecords, "ghost", json.RawMessage(`{"record_id":"ghost"}`)); err != nil {
		t.Fatalf("Replace of missing id must not fail: %v", err)
	}
	if s.ReplaceMisses() != 1 {
		t.Errorf("Expected 1 recorded miss, got %d", s.ReplaceMisses())
	}
}

// TestMarkSyncedFlipsStatusAndClearsLedger tests post-push finalization.
func TestMarkSyncedFlipsStatusAndClearsLedger(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddDietRecord(models.DietRecord{RecordID: "d1", MealType: "breakfast"})
	s.AddDietRecord(models.DietRecord{RecordID: "d2", MealType: "dinner"})

	if err := s.MarkSynced(models.TableDietaryRecords, []string{"d1", "d2"}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	for _, r := range s.DietRecords() {
		if r.SyncStatus != models.SyncStatusSynced {
			t.Errorf("Record %s still %s", r.RecordID, r.SyncStatus)
		}
	}
	if counts := s.PendingCounts(); counts.DietRecords != 0 {
		t.Errorf("Expected empty ledger, got %d entries", counts.DietRecords)
	}
}

// TestSetLastSyncMonotonic tests that lastSync only moves forward.
func TestSetLastSyncMonotonic(t *testing.T) {
	s, _, _ := openStore(t)

	later := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	if err := s.SetLastSync(later); err != nil {
		t.Fatalf("SetLastSync failed: %v", err)
	}
	if err := s.SetLastSync(earlier); err != nil {
		t.Fatalf("SetLastSync failed: %v", err)
	}

	if got := s.LastSync(); !got.Equal(later) {
		t.Errorf("Expected lastSync to stay at %v, got %v", later, got)
	}
}

// TestRehydrateAcrossReopen tests that a restart reproduces identical state.
func TestRehydrateAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	kvStore, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv.Open failed: %v", err)
	}

	s, err := Open(kvStore)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	s.AddMessage(models.ChatMessage{RecordID: "m1", UserMessage: "hi", Timestamp: "2024-01-01T00:00:00Z"})
	s.SetLastSync(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	kvStore.Close()

	kvStore2, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv reopen failed: %v", err)
	}
	defer kvStore2.Close()

	s2, err := Open(kvStore2)
	if err != nil {
		t.Fatalf("store reopen failed: %v", err)
	}

	if len(s2.Messages()) != 1 {
		t.Fatalf("Expected 1 message after reopen, got %d", len(s2.Messages()))
	}
	if s2.PendingCounts().Messages != 1 {
		t.Error("Expected ledger entry to survive reopen")
	}
	if s2.LastSync().IsZero() {
		t.Error("Expected lastSync to survive reopen")
	}
}

// TestCorruptStateFallsBackToEmpty tests the rebuildable-cache policy:
// corruption reinitializes, it never hard-fails.
func TestCorruptStateFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	kvStore, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv.Open failed: %v", err)
	}
	defer kvStore.Close()

	kvStore.Set(KeyMessages, []byte(`{"not":"an array"`))
	kvStore.Set(KeySyncState, []byte(`42`))

	s, err := Open(kvStore)
	if err != nil {
		t.Fatalf("Open should tolerate corruption: %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Error("Expected empty messages after corruption")
	}
	if s.PendingCounts().Total() != 0 {
		t.Error("Expected empty ledgers after corruption")
	}
}

// TestClearLedgerEntry tests single-id ledger cleanup after a conflict
// resolution.
func TestClearLedgerEntry(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddAdvice(models.HealthAdvice{ID: "a1"})
	s.AddAdvice(models.HealthAdvice{ID: "a2"})

	if err := s.ClearLedgerEntry(models.TableHealthAdvice, "a1"); err != nil {
		t.Fatalf("ClearLedgerEntry failed: %v", err)
	}

	if len(s.Advice()) != 2 {
		t.Error("Collection must be untouched by ledger cleanup")
	}
	changes := s.PendingChanges().Advice
	if len(changes) != 1 || changes[0].RecordKey() != "a2" {
		t.Errorf("Expected only a2 in ledger, got %v", changes)
	}
}

// TestPendingChangesSnapshotIsolation tests that mutating the snapshot does
// not affect the store.
func TestPendingChangesSnapshotIsolation(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddMessage(models.ChatMessage{RecordID: "m1"})

	snapshot := s.PendingChanges()
	snapshot.Messages[0] = models.PendingChange{Timestamp: "tampered"}

	if s.PendingChanges().Messages[0].Timestamp == "tampered" {
		t.Error("Snapshot mutation leaked into the store")
	}
}

// TestDuplicateAppendAllowed tests that the store does not police ids.
func TestDuplicateAppendAllowed(t *testing.T) {
	s, _, _ := openStore(t)

	s.AddMessage(models.ChatMessage{RecordID: "m1"})
	if err := s.AddMessage(models.ChatMessage{RecordID: "m1"}); err != nil {
		t.Fatalf("Duplicate append must be accepted: %v", err)
	}
	if len(s.Messages()) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(s.Messages()))
	}
}
