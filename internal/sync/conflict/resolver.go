// Package conflict encodes the per-type merge policy for sync conflicts.
//
// Every function here is a pure mapping from a server/client record pair to
// a final record: no I/O, no side effects, inputs never mutated. Chat
// messages and diet records resolve by last write wins on the record
// timestamp; health advice merges field by field.
package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaiwenho/healthsync/internal/models"
)

// Separator joins concatenated text fields during an advice merge, server
// part first.
const Separator = "\n---\n"

// Merge resolves a server/client pair for the given table and returns the
// final record as raw JSON, tagged synced.
func Merge(table models.RecordTable, server, client json.RawMessage) (json.RawMessage, error) {
	switch table {
	case models.TableChatRecords:
		var s, c models.ChatMessage
		if err := decodePair(server, client, &s, &c); err != nil {
			return nil, err
		}
		return json.Marshal(MergeMessages(s, c))
	case models.TableHealthAdvice:
		var s, c models.HealthAdvice
		if err := decodePair(server, client, &s, &c); err != nil {
			return nil, err
		}
		return json.Marshal(MergeAdvice(s, c))
	case models.TableDietaryRecords:
		var s, c models.DietRecord
		if err := decodePair(server, client, &s, &c); err != nil {
			return nil, err
		}
		return json.Marshal(MergeDietRecords(s, c))
	}
	return nil, fmt.Errorf("unknown record table %q", string(table))
}

// MergeMessages resolves two chat message versions by last write wins. The
// client wins only when its timestamp is strictly greater.
func MergeMessages(server, client models.ChatMessage) models.ChatMessage {
	winner := server
	if clientNewer(server.Timestamp, client.Timestamp) {
		winner = client
	}
	winner.SyncStatus = models.SyncStatusSynced
	return winner
}

// MergeDietRecords resolves two diet record versions by last write wins.
func MergeDietRecords(server, client models.DietRecord) models.DietRecord {
	winner := server
	if clientNewer(server.Timestamp, client.Timestamp) {
		winner = client
	}
	winner.SyncStatus = models.SyncStatusSynced
	return winner
}

// MergeAdvice merges two advice versions field by field:
//   - content and symptoms are joined with Separator, server part first
//   - is_favorite is the OR of both sides
//   - rating is the maximum, treating a missing rating as zero
//   - everything else keeps the server's value
func MergeAdvice(server, client models.HealthAdvice) models.HealthAdvice {
	merged := server
	merged.Content = joinText(server.Content, client.Content)
	merged.Symptoms = joinText(server.Symptoms, client.Symptoms)
	merged.IsFavorite = server.IsFavorite || client.IsFavorite
	merged.Rating = maxRating(server.Rating, client.Rating)
	merged.SyncStatus = models.SyncStatusSynced
	return merged
}

// joinText concatenates the server and client parts with the separator,
// skipping empty sides so a one-sided value survives unchanged.
func joinText(server, client string) string {
	switch {
	case server == "":
		return client
	case client == "":
		return server
	}
	return server + Separator + client
}

func maxRating(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// clientNewer reports whether the client timestamp is strictly after the
// server timestamp. Unparseable timestamps fall back to a byte comparison,
// which orders correctly for uniform RFC 3339 UTC strings.
func clientNewer(server, client string) bool {
	st, sErr := time.Parse(time.RFC3339, server)
	ct, cErr := time.Parse(time.RFC3339, client)
	if sErr != nil || cErr != nil {
		return client > server
	}
	return ct.After(st)
}

func decodePair(server, client json.RawMessage, s, c interface{}) error {
	if err := json.Unmarshal(server, s); err != nil {
		return fmt.Errorf("failed to decode server record: %w", err)
	}
	if err := json.Unmarshal(client, c); err != nil {
		return fmt.Errorf("failed to decode client record: %w", err)
	}
	return nil
}
