//go:generate go run go.uber.org/mock/mockgen -source=contact.go -destination=../mocks/mock_contact_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"

	"github.com/dgraph-io/badger/v4"
)

const contactKeyPrefix = "contact:"

// ContactListOptions narrows List results. Search matches handle,
// display name or description as a case-insensitive substring; Tags
// keeps contacts carrying at least one of the given tags.
type ContactListOptions struct {
	ActiveOnly bool
	Search     string
	Tags       []string
}

type IContactRepository interface {
	Add(txn *badger.Txn, contact domain.Contact) error
	Get(handle string) (domain.Contact, error)
	GetTxn(txn *badger.Txn, handle string) (domain.Contact, error)
	Update(txn *badger.Txn, handle string, expectedVersion int64, updatedBy string, now time.Time, mutate func(*domain.Contact)) (domain.Contact, error)
	List(opts ContactListOptions) ([]domain.Contact, error)
}

type ContactRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewContactRepository(db *badger.DB, log *slog.Logger) IContactRepository {
	return &ContactRepository{db: db, log: log}
}

type storedContact struct {
	Handle      string   `json:"handle"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsActive    bool     `json:"is_active"`
	Version     int64    `json:"version"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	UpdatedBy   string   `json:"updated_by"`
}

func contactKey(handle string) []byte {
	return []byte(contactKeyPrefix + handle)
}

// Add persists a new contact. The handle is the primary key; a second
// Add for the same handle fails with AlreadyExists.
func (r ContactRepository) Add(txn *badger.Txn, contact domain.Contact) error {
	key := contactKey(contact.Handle)
	if _, err := txn.Get(key); err == nil {
		return mailerrors.AlreadyExists("contact", contact.Handle)
	} else if !mailerrors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	bytes, err := json.Marshal(fromContact(contact))
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

func (r ContactRepository) Get(handle string) (domain.Contact, error) {
	var contact domain.Contact
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		contact, err = r.GetTxn(txn, handle)
		return err
	})
	return contact, err
}

func (r ContactRepository) GetTxn(txn *badger.Txn, handle string) (domain.Contact, error) {
	item, err := txn.Get(contactKey(handle))
	if err != nil {
		if mailerrors.Is(err, badger.ErrKeyNotFound) {
			return domain.Contact{}, mailerrors.NotFound("contact", handle)
		}
		return domain.Contact{}, err
	}
	var stored storedContact
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return domain.Contact{}, err
	}
	return toContact(stored), nil
}

// Update is the conditional write guarding every contact mutation,
// deactivation included. The read and the version check run inside the
// caller's transaction, so the compare-and-swap is atomic: a handle
// that never existed yields NotFound, a stale expectedVersion yields
// VersionConflict, and on success the version increments by exactly 1.
// When two transactions race past the check, badger's conflict
// detection aborts one at commit; the facade remaps that to
// VersionConflict as well.
func (r ContactRepository) Update(txn *badger.Txn, handle string, expectedVersion int64, updatedBy string, now time.Time, mutate func(*domain.Contact)) (domain.Contact, error) {
	contact, err := r.GetTxn(txn, handle)
	if err != nil {
		return domain.Contact{}, err
	}
	if contact.Version != expectedVersion {
		return domain.Contact{}, mailerrors.VersionConflict(handle, expectedVersion)
	}

	mutate(&contact)
	contact.Version++
	contact.UpdatedAt = now
	contact.UpdatedBy = updatedBy

	bytes, err := json.Marshal(fromContact(contact))
	if err != nil {
		return domain.Contact{}, err
	}
	if err = txn.Set(contactKey(handle), bytes); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

// List returns contacts in handle order (the key order under the
// contact prefix), filtered by opts.
func (r ContactRepository) List(opts ContactListOptions) ([]domain.Contact, error) {
	needle := strings.ToLower(opts.Search)
	var contacts []domain.Contact
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(contactKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var stored storedContact
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return err
			}
			contact := toContact(stored)
			if opts.ActiveOnly && !contact.IsActive {
				continue
			}
			if needle != "" && !matchesContact(contact, needle) {
				continue
			}
			if len(opts.Tags) > 0 && !contact.HasAnyTag(opts.Tags) {
				continue
			}
			contacts = append(contacts, contact)
		}
		return nil
	})
	return contacts, err
}

func matchesContact(contact domain.Contact, needle string) bool {
	return strings.Contains(strings.ToLower(contact.Handle), needle) ||
		strings.Contains(strings.ToLower(contact.DisplayName), needle) ||
		strings.Contains(strings.ToLower(contact.Description), needle)
}

func fromContact(contact domain.Contact) storedContact {
	return storedContact{
		Handle:      contact.Handle,
		DisplayName: contact.DisplayName,
		Description: contact.Description,
		Tags:        contact.Tags,
		IsActive:    contact.IsActive,
		Version:     contact.Version,
		CreatedAt:   contact.CreatedAt.UnixNano(),
		UpdatedAt:   contact.UpdatedAt.UnixNano(),
		UpdatedBy:   contact.UpdatedBy,
	}
}

func toContact(stored storedContact) domain.Contact {
	return domain.Contact{
		Handle:      stored.Handle,
		DisplayName: stored.DisplayName,
		Description: stored.Description,
		Tags:        stored.Tags,
		IsActive:    stored.IsActive,
		Version:     stored.Version,
		CreatedAt:   time.Unix(0, stored.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, stored.UpdatedAt).UTC(),
		UpdatedBy:   stored.UpdatedBy,
	}
}
