// Package models provides data model definitions for the HealthSync client.
package models

import (
	"encoding/json"
	"fmt"
)

// Resolution selects how a conflict between server and client versions of a
// record is settled.
type Resolution string

const (
	ResolutionKeepServer Resolution = "keep_server"
	ResolutionKeepClient Resolution = "keep_client"
	ResolutionMerge      Resolution = "merge"
)

// Valid reports whether r is a known resolution strategy.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepServer, ResolutionKeepClient, ResolutionMerge:
		return true
	}
	return false
}

// Conflict is a divergence between the server and local versions of one
// record. It is transient: produced by the server during a push, consumed
// once by the resolver. Server and client payloads stay raw until the table
// tag has been validated, so a malformed descriptor never aborts decoding of
// the batch it arrived in.
type Conflict struct {
	Table      RecordTable     `json:"table"`
	RecordID   string          `json:"recordId"`
	Resolution Resolution      `json:"resolution"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
	ClientData json.RawMessage `json:"clientData,omitempty"`
}

// Validate checks the descriptor's table and resolution tags.
func (c *Conflict) Validate() error {
	if !c.Table.Valid() {
		return fmt.Errorf("conflict %s: unknown record table %q", c.RecordID, string(c.Table))
	}
	if !c.Resolution.Valid() {
		return fmt.Errorf("conflict %s: unknown resolution %q", c.RecordID, string(c.Resolution))
	}
	return nil
}
