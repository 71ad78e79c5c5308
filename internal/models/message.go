package models

import "time"

// StatusChange is one entry of the status history written in the same atomic
// unit as the transition it records.
type StatusChange struct {
	Collection Collection `json:"collection"`
	EntityID   string     `json:"entity_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	ChangedBy  string     `json:"changed_by"`
	Role       Role       `json:"role"`
	Notes      string     `json:"notes,omitempty"`
	ChangedAt  time.Time  `json:"changed_at"`
}

// ChangeEvent is published after a commit so subscribers can refresh without
// waiting for the next poll.
type ChangeEvent struct {
	Collection  Collection     `json:"collection"`
	Revision    int64          `json:"revision"`
	EntityIDs   []string       `json:"entity_ids"`
	Transitions []StatusChange `json:"transitions,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewStatusChange creates a history entry for a transition made by actor
func NewStatusChange(collection Collection, entityID, from, to string, actor Actor, notes string, at time.Time) StatusChange {
	return StatusChange{
		Collection: collection,
		EntityID:   entityID,
		From:       from,
		To:         to,
		ChangedBy:  actor.UserID,
		Role:       actor.Role,
		Notes:      notes,
		ChangedAt:  at.UTC(),
	}
}
