// Package v1 defines the FieldQuest live event contract v1.
//
// It is shared between the server, the cross-instance relay and clients, and
// stays dependency-light so the wire format is authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every relay envelope.
const Version = "v1"

// Event names (wire-stable). They are used verbatim as the SSE `event:` field.
const (
	// TypeProgressUpdated is emitted after every completed mark/unmark/delete.
	TypeProgressUpdated = "progress-updated"
)

// Change kinds carried by ProgressUpdated.
const (
	ChangeSet    = "set"
	ChangeClear  = "clear"
	ChangeDelete = "delete"
)

// Aggregate is the derived per-mapping summary of a quest.
type Aggregate struct {
	MappingID       string     `json:"mapping_id"`
	TaxonID         string     `json:"taxon_id"`
	Label           string     `json:"label,omitempty"`
	Count           int        `json:"count"`
	LastObservedAt  *time.Time `json:"last_observed_at,omitempty"`
	LastDisplayName string     `json:"last_display_name,omitempty"`
}

// Change describes the write that produced an event.
type Change struct {
	Kind        string `json:"kind"`
	MappingID   string `json:"mapping_id"`
	ShareID     string `json:"share_id"`
	DisplayName string `json:"display_name"`
}

// ProgressUpdated is the payload of TypeProgressUpdated. Seq increases by one
// per completed write on the quest, so viewers can detect gaps.
type ProgressUpdated struct {
	QuestID    string      `json:"quest_id"`
	Seq        int64       `json:"seq"`
	Aggregates []Aggregate `json:"aggregates"`
	Change     Change      `json:"change"`
	At         time.Time   `json:"at"`
}

// Validate checks required fields.
func (p ProgressUpdated) Validate() error {
	if strings.TrimSpace(p.QuestID) == "" {
		return errors.New("missing quest_id")
	}
	if p.Seq <= 0 {
		return errors.New("missing seq")
	}
	switch p.Change.Kind {
	case ChangeSet, ChangeClear, ChangeDelete:
	default:
		return fmt.Errorf("unsupported change kind: %q", p.Change.Kind)
	}
	return nil
}

// Envelope wraps events published on the inter-instance bus.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	QuestID string          `json:"quest_id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the envelope shape.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if e.Type != TypeProgressUpdated {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.Origin == "" {
		return errors.New("missing origin")
	}
	if e.QuestID == "" {
		return errors.New("missing quest_id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}
