package domain

import "time"

// Audit event types, one per mutating facade operation.
const (
	EventMessageSent        = "message.sent"
	EventMessageReplied     = "message.replied"
	EventThreadArchived     = "thread.archived"
	EventThreadUnarchived   = "thread.unarchived"
	EventThreadMetadataSet  = "thread.metadata"
	EventContactAdded       = "contact.added"
	EventContactUpdated     = "contact.updated"
	EventContactDeactivated = "contact.deactivated"
)

// AuditEvent records one mutation. The ledger is strictly append-only:
// no update or delete is ever exposed for this type.
type AuditEvent struct {
	ID        string
	EventType string
	Actor     string
	Target    string
	Details   map[string]string
	At        time.Time
}
