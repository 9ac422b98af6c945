//go:generate go run go.uber.org/mock/mockgen -source=audit.go -destination=../mocks/mock_audit_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"
	"time"

	"agent-mail/domain"

	"github.com/dgraph-io/badger/v4"
)

const auditKeyPrefix = "audit:"

// AuditFilter narrows List results; empty fields match everything.
type AuditFilter struct {
	EventType string
	Actor     string
	Target    string
	Limit     int
}

// IAuditRepository is insert-only. No update or delete exists for the
// ledger, here or anywhere above it.
type IAuditRepository interface {
	Append(txn *badger.Txn, event domain.AuditEvent) error
	List(filter AuditFilter) ([]domain.AuditEvent, error)
}

type AuditRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAuditRepository(db *badger.DB, log *slog.Logger) IAuditRepository {
	return &AuditRepository{db: db, log: log}
}

type storedAuditEvent struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Actor     string            `json:"actor"`
	Target    string            `json:"target,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	At        int64             `json:"timestamp"`
}

func auditKey(id string) []byte {
	return []byte(auditKeyPrefix + id)
}

// Append writes one event inside the caller's transaction, so the
// ledger entry commits or rolls back with the mutation it records.
func (r AuditRepository) Append(txn *badger.Txn, event domain.AuditEvent) error {
	bytes, err := json.Marshal(fromAuditEvent(event))
	if err != nil {
		return err
	}
	return txn.Set(auditKey(event.ID), bytes)
}

// List returns events newest first. Event ids are sortable tokens, so
// reverse key order is timestamp-descending without an extra sort.
func (r AuditRepository) List(filter AuditFilter) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(auditKeyPrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var stored storedAuditEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return err
			}
			event := toAuditEvent(stored)
			if !matchesFilter(event, filter) {
				continue
			}
			events = append(events, event)
			if filter.Limit > 0 && len(events) == filter.Limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

func matchesFilter(event domain.AuditEvent, filter AuditFilter) bool {
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	if filter.Actor != "" && event.Actor != filter.Actor {
		return false
	}
	if filter.Target != "" && event.Target != filter.Target {
		return false
	}
	return true
}

func fromAuditEvent(event domain.AuditEvent) storedAuditEvent {
	return storedAuditEvent{
		ID:        event.ID,
		EventType: event.EventType,
		Actor:     event.Actor,
		Target:    event.Target,
		Details:   event.Details,
		At:        event.At.UnixNano(),
	}
}

func toAuditEvent(stored storedAuditEvent) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        stored.ID,
		EventType: stored.EventType,
		Actor:     stored.Actor,
		Target:    stored.Target,
		Details:   stored.Details,
		At:        time.Unix(0, stored.At).UTC(),
	}
}
