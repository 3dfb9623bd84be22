// Package models provides data model definitions for the HealthSync client.
package models

import (
	"encoding/json"
	"time"
)

// PendingChange is one local mutation awaiting server acknowledgement.
// Data holds the full record as raw JSON; the ledger does not care about the
// record's shape, only its identifier.
type PendingChange struct {
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// recordKeyProbe pulls the identifier out of a raw record without committing
// to a concrete record type. Advice records carry "id", chat and diet records
// carry "record_id".
type recordKeyProbe struct {
	ID       string `json:"id"`
	RecordID string `json:"record_id"`
}

// RecordKey returns the identifier of the record inside the change, or ""
// if the payload cannot be decoded.
func (p PendingChange) RecordKey() string {
	var probe recordKeyProbe
	if err := json.Unmarshal(p.Data, &probe); err != nil {
		return ""
	}
	if probe.ID != "" {
		return probe.ID
	}
	return probe.RecordID
}

// PendingLedgers holds the per-type pending-change sequences. Entry order is
// insertion order, which is chronological.
type PendingLedgers struct {
	Messages    []PendingChange `json:"messages"`
	Advice      []PendingChange `json:"advice"`
	DietRecords []PendingChange `json:"dietRecords"`
}

// ForTable returns the ledger sequence for a table.
func (l *PendingLedgers) ForTable(t RecordTable) []PendingChange {
	switch t {
	case TableChatRecords:
		return l.Messages
	case TableHealthAdvice:
		return l.Advice
	case TableDietaryRecords:
		return l.DietRecords
	}
	return nil
}

// PendingCounts is the per-type ledger length, for UI and telemetry.
type PendingCounts struct {
	Messages    int `json:"messages"`
	Advice      int `json:"advice"`
	DietRecords int `json:"dietRecords"`
}

// Total returns the summed count across all three types.
func (c PendingCounts) Total() int {
	return c.Messages + c.Advice + c.DietRecords
}

// SyncState is the process-wide, persisted synchronization state: the
// last successful sync time plus the pending-change ledgers.
type SyncState struct {
	LastSync       string         `json:"lastSync,omitempty"`
	PendingChanges PendingLedgers `json:"pendingChanges"`
}

// LastSyncTime parses LastSync, returning the zero time when unset or
// unparseable.
func (s *SyncState) LastSyncTime() time.Time {
	if s.LastSync == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.LastSync)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DeviceInfo is the metadata reported to the server for this installation.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}
