// Package store implements the device-local record store.
//
// The store owns the three record collections (chat messages, health advice,
// diet records) and the persisted sync state, which carries the last-sync
// timestamp and the pending-change ledgers. It is the single source of truth
// for the device's offline view. Every mutation is persisted to the key-value
// substrate before it returns, so a crash loses at most the in-flight
// operation.
//
// The collections and the ledgers are mutated together under one mutex so
// they can never diverge: a record enters its collection and the ledger in
// the same critical section, and leaves both the same way.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kaiwenho/healthsync/internal/errors"
	"github.com/kaiwenho/healthsync/internal/kv"
	"github.com/kaiwenho/healthsync/internal/logging"
	"github.com/kaiwenho/healthsync/internal/models"
)

// Substrate keys. Stable so a restart rehydrates identical state.
const (
	KeyMessages    = "local_messages"
	KeyAdvice      = "local_advice"
	KeyDietRecords = "local_diet_records"
	KeySyncState   = "sync_status"
)

// Store is the local record store.
type Store struct {
	kv *kv.Store

	mu          sync.Mutex
	messages    []models.ChatMessage
	advice      []models.HealthAdvice
	dietRecords []models.DietRecord
	state       models.SyncState

	// replaceMisses counts Replace calls whose id was absent. The miss is a
	// silent no-op (resolving a conflict twice is harmless) but the counter
	// keeps it observable.
	replaceMisses uint64
}

// Open rehydrates the store from the substrate. A missing or corrupt
// persisted structure is replaced with an empty one rather than failing:
// the local cache is always rebuildable from the server.
func Open(kvStore *kv.Store) (*Store, error) {
	s := &Store{kv: kvStore}

	if err := rehydrate(kvStore, KeyMessages, &s.messages); err != nil {
		return nil, err
	}
	if err := rehydrate(kvStore, KeyAdvice, &s.advice); err != nil {
		return nil, err
	}
	if err := rehydrate(kvStore, KeyDietRecords, &s.dietRecords); err != nil {
		return nil, err
	}
	if err := rehydrate(kvStore, KeySyncState, &s.state); err != nil {
		return nil, err
	}

	return s, nil
}

// rehydrate loads one persisted structure, falling back to the zero value on
// corruption.
func rehydrate(kvStore *kv.Store, key string, dst interface{}) error {
	raw, found, err := kvStore.Get(key)
	if err != nil {
		return errors.Wrap(errors.ErrStoreIO, fmt.Sprintf("failed to load %q", key), err)
	}
	if !found {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logging.Warn("Persisted state is corrupt, reinitializing", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

// AddMessage appends a chat message to its collection and records the
// mutation in the pending ledger. The record enters with pending status.
func (s *Store) AddMessage(m models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.SyncStatus = models.SyncStatusPending
	s.messages = append(s.messages, m)
	if err := s.recordPendingLocked(models.TableChatRecords, m); err != nil {
		return err
	}
	return s.persistLocked(models.TableChatRecords)
}

// AddAdvice appends a health advice record and ledgers the mutation.
func (s *Store) AddAdvice(a models.HealthAdvice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.SyncStatus = models.SyncStatusPending
	s.advice = append(s.advice, a)
	if err := s.recordPendingLocked(models.TableHealthAdvice, a); err != nil {
		return err
	}
	return s.persistLocked(models.TableHealthAdvice)
}

// AddDietRecord appends a diet record and ledgers the mutation.
func (s *Store) AddDietRecord(r models.DietRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.SyncStatus = models.SyncStatusPending
	s.dietRecords = append(s.dietRecords, r)
	if err := s.recordPendingLocked(models.TableDietaryRecords, r); err != nil {
		return err
	}
	return s.persistLocked(models.TableDietaryRecords)
}

// recordPendingLocked appends a ledger entry for record. Caller holds s.mu.
func (s *Store) recordPendingLocked(table models.RecordTable, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode pending change", err)
	}
	change := models.PendingChange{
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch table {
	case models.TableChatRecords:
		s.state.PendingChanges.Messages = append(s.state.PendingChanges.Messages, change)
	case models.TableHealthAdvice:
		s.state.PendingChanges.Advice = append(s.state.PendingChanges.Advice, change)
	case models.TableDietaryRecords:
		s.state.PendingChanges.DietRecords = append(s.state.PendingChanges.DietRecords, change)
	default:
		return errors.Newf(errors.ErrInvalid, "unknown record table %q", table)
	}
	return nil
}

// RemoveByIDs removes every record whose id is in ids from the named
// collection, together with the matching ledger entries. Both removals land
// in one substrate transaction.
func (s *Store) RemoveByIDs(table models.RecordTable, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case models.TableChatRecords:
		kept := s.messages[:0]
		for _, m := range s.messages {
			if _, gone := idSet[m.Key()]; !gone {
				kept = append(kept, m)
			}
		}
		s.messages = kept
	case models.TableHealthAdvice:
		kept := s.advice[:0]
		for _, a := range s.advice {
			if _, gone := idSet[a.Key()]; !gone {
				kept = append(kept, a)
			}
		}
		s.advice = kept
	case models.TableDietaryRecords:
		kept := s.dietRecords[:0]
		for _, r := range s.dietRecords {
			if _, gone := idSet[r.Key()]; !gone {
				kept = append(kept, r)
			}
		}
		s.dietRecords = kept
	default:
		return errors.Newf(errors.ErrInvalid, "unknown record table %q", table)
	}

	s.dropLedgerEntriesLocked(table, idSet)
	return s.persistLocked(table)
}

// dropLedgerEntriesLocked removes ledger entries whose record id is in
// idSet. Caller holds s.mu.
func (s *Store) dropLedgerEntriesLocked(table models.RecordTable, idSet map[string]struct{}) {
	filter := func(changes []models.PendingChange) []models.PendingChange {
		kept := changes[:0]
		for _, c := range changes {
			if _, gone := idSet[c.RecordKey()]; !gone {
				kept = append(kept, c)
			}
		}
		return kept
	}

	switch table {
	case models.TableChatRecords:
		s.state.PendingChanges.Messages = filter(s.state.PendingChanges.Messages)
	case models.TableHealthAdvice:
		s.state.PendingChanges.Advice = filter(s.state.PendingChanges.Advice)
	case models.TableDietaryRecords:
		s.state.PendingChanges.DietRecords = filter(s.state.PendingChanges.DietRecords)
	}
}

// Replace overwrites the record with the given id in place and marks it
// synced. A missing id is a silent no-op: conflict resolutions are
// idempotent, and replaying one must not fail. Misses are counted for
// observability.
func (s *Store) Replace(table models.RecordTable, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	switch table {
	case models.TableChatRecords:
		for i, m := range s.messages {
			if m.Key() != id {
				continue
			}
			var next models.ChatMessage
			if err := json.Unmarshal(data, &next); err != nil {
				return errors.Wrap(errors.ErrInvalid, "failed to decode replacement record", err)
			}
			next.SyncStatus = models.SyncStatusSynced
			s.messages[i] = next
			replaced = true
			break
		}
	case models.TableHealthAdvice:
		for i, a := range s.advice {
			if a.Key() != id {
				continue
			}
			var next models.HealthAdvice
			if err := json.Unmarshal(data, &next); err != nil {
				return errors.Wrap(errors.ErrInvalid, "failed to decode replacement record", err)
			}
			next.SyncStatus = models.SyncStatusSynced
			s.advice[i] = next
			replaced = true
			break
		}
	case models.TableDietaryRecords:
		for i, r := range s.dietRecords {
			if r.Key() != id {
				continue
			}
			var next models.DietRecord
			if err := json.Unmarshal(data, &next); err != nil {
				return errors.Wrap(errors.ErrInvalid, "failed to decode replacement record", err)
			}
			next.SyncStatus = models.SyncStatusSynced
			s.dietRecords[i] = next
			replaced = true
			break
		}
	default:
		return errors.Newf(errors.ErrInvalid, "unknown record table %q", table)
	}

	if !replaced {
		s.replaceMisses++
		logging.Debug("Replace target not found", map[string]interface{}{
			"table":     table.String(),
			"record_id": id,
		})
		return nil
	}

	return s.persistLocked(table)
}

// MarkSynced flips the named records to synced status and clears their
// ledger entries. Used when the server has acknowledged a pushed batch.
func (s *Store) MarkSynced(table models.RecordTable, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case models.TableChatRecords:
		for i := range s.messages {
			if _, ok := idSet[s.messages[i].Key()]; ok {
				s.messages[i].SyncStatus = models.SyncStatusSynced
			}
		}
	case models.TableHealthAdvice:
		for i := range s.advice {
			if _, ok := idSet[s.advice[i].Key()]; ok {
				s.advice[i].SyncStatus = models.SyncStatusSynced
			}
		}
	case models.TableDietaryRecords:
		for i := range s.dietRecords {
			if _, ok := idSet[s.dietRecords[i].Key()]; ok {
				s.dietRecords[i].SyncStatus = models.SyncStatusSynced
			}
		}
	default:
		return errors.Newf(errors.ErrInvalid, "unknown record table %q", table)
	}

	s.dropLedgerEntriesLocked(table, idSet)
	return s.persistLocked(table)
}

// ClearLedgerEntry removes the ledger entry for a single record without
// touching the collection. Used when a conflict resolution completes for
// that id.
func (s *Store) ClearLedgerEntry(table models.RecordTable, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLedgerEntriesLocked(table, map[string]struct{}{id: {}})
	return s.persistStateLocked()
}

// PendingChanges returns a snapshot of the three ledgers. The caller gets
// copies of the slices; the underlying raw payloads are never mutated by the
// store after insertion.
func (s *Store) PendingChanges() models.PendingLedgers {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.PendingLedgers{
		Messages:    append([]models.PendingChange(nil), s.state.PendingChanges.Messages...),
		Advice:      append([]models.PendingChange(nil), s.state.PendingChanges.Advice...),
		DietRecords: append([]models.PendingChange(nil), s.state.PendingChanges.DietRecords...),
	}
}

// PendingCounts returns the per-type ledger lengths.
func (s *Store) PendingCounts() models.PendingCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.PendingCounts{
		Messages:    len(s.state.PendingChanges.Messages),
		Advice:      len(s.state.PendingChanges.Advice),
		DietRecords: len(s.state.PendingChanges.DietRecords),
	}
}

// LastSync returns the persisted last-sync timestamp, zero when no round has
// completed yet.
func (s *Store) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastSyncTime()
}

// SetLastSync advances the last-sync timestamp. The value is monotonic: a
// timestamp at or before the current one is ignored.
func (s *Store) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.After(s.state.LastSyncTime()) {
		return nil
	}
	s.state.LastSync = t.UTC().Format(time.RFC3339)
	return s.persistStateLocked()
}

// Messages returns a copy of the message collection.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

// Advice returns a copy of the advice collection.
func (s *Store) Advice() []models.HealthAdvice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HealthAdvice(nil), s.advice...)
}

// DietRecords returns a copy of the diet record collection.
func (s *Store) DietRecords() []models.DietRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DietRecord(nil), s.dietRecords...)
}

// ReplaceMisses reports how many Replace calls targeted a missing id.
func (s *Store) ReplaceMisses() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceMisses
}

// persistLocked writes the named collection and the sync state in one
// substrate transaction. Caller holds s.mu.
func (s *Store) persistLocked(table models.RecordTable) error {
	entries := make(map[string][]byte, 2)

	var (
		key string
		val interface{}
	)
	switch table {
	case models.TableChatRecords:
		key, val = KeyMessages, s.messages
	case models.TableHealthAdvice:
		key, val = KeyAdvice, s.advice
	case models.TableDietaryRecords:
		key, val = KeyDietRecords, s.dietRecords
	default:
		return errors.Newf(errors.ErrInvalid, "unknown record table %q", table)
	}

	collection, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode collection", err)
	}
	entries[key] = collection

	state, err := json.Marshal(&s.state)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode sync state", err)
	}
	entries[KeySyncState] = state

	if err := s.kv.SetMany(entries); err != nil {
		return errors.Wrap(errors.ErrStoreIO, "failed to persist local state", err)
	}
	return nil
}

// persistStateLocked writes only the sync state. Caller holds s.mu.
func (s *Store) persistStateLocked() error {
	state, err := json.Marshal(&s.state)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode sync state", err)
	}
	if err := s.kv.Set(KeySyncState, state); err != nil {
		return errors.Wrap(errors.ErrStoreIO, "failed to persist sync state", err)
	}
	return nil
}
