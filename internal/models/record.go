// Package models provides data model definitions for the HealthSync client.
package models

import "fmt"

// SyncStatus marks whether a record has completed a round-trip to the server.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// RecordTable identifies one of the three synchronized record collections.
// The set is closed: anything outside the three constants is rejected by
// ParseRecordTable and skipped by the sync engine.
type RecordTable string

const (
	TableChatRecords    RecordTable = "chat_records"
	TableHealthAdvice   RecordTable = "health_advice"
	TableDietaryRecords RecordTable = "dietary_records"
)

// Tables lists every known record table in a stable order.
func Tables() []RecordTable {
	return []RecordTable{TableChatRecords, TableHealthAdvice, TableDietaryRecords}
}

// Valid reports whether t is one of the three known tables.
func (t RecordTable) Valid() bool {
	switch t {
	case TableChatRecords, TableHealthAdvice, TableDietaryRecords:
		return true
	}
	return false
}

// ParseRecordTable converts a wire-level table name into a RecordTable.
func ParseRecordTable(s string) (RecordTable, error) {
	t := RecordTable(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown record table %q", s)
	}
	return t, nil
}

// String returns the wire-level table name.
func (t RecordTable) String() string {
	return string(t)
}

// ChatMessage is one exchange with the assistant.
// Timestamp is an RFC 3339 string and is the recency signal for
// last-write-wins conflict resolution.
type ChatMessage struct {
	RecordID    string     `json:"record_id"`
	SessionID   string     `json:"session_id,omitempty"`
	UserMessage string     `json:"user_message"`
	BotResponse string     `json:"bot_response,omitempty"`
	HasImages   bool       `json:"has_images,omitempty"`
	DeviceID    string     `json:"device_id,omitempty"`
	Timestamp   string     `json:"timestamp"`
	SyncStatus  SyncStatus `json:"sync_status"`
}

// Key returns the collection-unique identifier.
func (m ChatMessage) Key() string {
	return m.RecordID
}

// HealthAdvice is a piece of generated advice together with the user's
// favorite flag and rating.
type HealthAdvice struct {
	ID               string     `json:"id"`
	Content          string     `json:"content"`
	Symptoms         string     `json:"symptoms,omitempty"`
	RecommendedFoods string     `json:"recommended_foods,omitempty"`
	IsFavorite       bool       `json:"is_favorite"`
	Rating           float64    `json:"rating,omitempty"`
	Feedback         string     `json:"feedback,omitempty"`
	DeviceID         string     `json:"device_id,omitempty"`
	Timestamp        string     `json:"timestamp"`
	SyncStatus       SyncStatus `json:"sync_status"`
}

// Key returns the collection-unique identifier.
func (a HealthAdvice) Key() string {
	return a.ID
}

// DietRecord is one logged meal.
type DietRecord struct {
	RecordID     string     `json:"record_id"`
	MealType     string     `json:"meal_type"`
	FoodItems    []string   `json:"food_items"`
	Calories     float64    `json:"calories,omitempty"`
	Protein      float64    `json:"protein,omitempty"`
	Carbs        float64    `json:"carbs,omitempty"`
	Fat          float64    `json:"fat,omitempty"`
	Satisfaction int        `json:"satisfaction,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Timestamp    string     `json:"timestamp"`
	SyncStatus   SyncStatus `json:"sync_status"`
}

// Key returns the collection-unique identifier.
func (r DietRecord) Key() string {
	return r.RecordID
}
