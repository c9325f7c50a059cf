package audit

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry maps to the audit_log table.
type LogEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	User      string    `db:"user_id" json:"user"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
}

// SearchParams filters the log. Empty fields match everything.
type SearchParams struct {
	Action string
	User   string
	Query  string
	Since  *time.Time
}

// SystemUser is recorded when an event has no authenticated caller.
const SystemUser = "system"
