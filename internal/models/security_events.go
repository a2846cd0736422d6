package models

import "time"

// AuditEvent is one append-only record of a security-relevant admin action.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
