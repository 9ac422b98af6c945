package services

import (
	"log/slog"
	"testing"
	"time"

	"agent-mail/domain"
	"agent-mail/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedContact(t *testing.T, db *badger.DB, contacts repositories.IContactRepository, handle string, tags []string, active bool) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return contacts.Add(txn, domain.Contact{
			Handle:    handle,
			Tags:      tags,
			IsActive:  active,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
			UpdatedBy: handle,
		})
	}))
}

func Test_IsAdmin_Requires_Active_Admin_Tag(t *testing.T) {
	req := require.New(t)
	db := newTestDB(t)
	contacts := repositories.NewContactRepository(db, slog.Default())
	access := NewAccess(contacts)

	seedContact(t, db, contacts, "dave", []string{"admin"}, true)
	seedContact(t, db, contacts, "bob", []string{"ops"}, true)
	seedContact(t, db, contacts, "eve", []string{"admin"}, false)

	admin, err := access.IsAdmin("dave")
	req.NoError(err)
	req.True(admin)

	admin, err = access.IsAdmin("bob")
	req.NoError(err)
	req.False(admin)

	// Deactivated contacts lose admin.
	admin, err = access.IsAdmin("eve")
	req.NoError(err)
	req.False(admin)

	// Unknown handles are simply not admins, not an error.
	admin, err = access.IsAdmin("stranger")
	req.NoError(err)
	req.False(admin)
}

func Test_IsAdmin_Reflects_Latest_Tag_Change(t *testing.T) {
	req := require.New(t)
	db := newTestDB(t)
	contacts := repositories.NewContactRepository(db, slog.Default())
	access := NewAccess(contacts)

	seedContact(t, db, contacts, "dave", nil, true)

	admin, err := access.IsAdmin("dave")
	req.NoError(err)
	req.False(admin)

	req.NoError(db.Update(func(txn *badger.Txn) error {
		_, err := contacts.Update(txn, "dave", 1, "alice", time.Now().UTC(), func(contact *domain.Contact) {
			contact.Tags = []string{"admin"}
		})
		return err
	}))

	// No session caching: the promotion is visible on the next call.
	admin, err = access.IsAdmin("dave")
	req.NoError(err)
	req.True(admin)
}

func Test_CanViewThread(t *testing.T) {
	req := require.New(t)
	db := newTestDB(t)
	contacts := repositories.NewContactRepository(db, slog.Default())
	access := NewAccess(contacts)

	seedContact(t, db, contacts, "dave", []string{"admin"}, true)

	thread := domain.NewThread("t1", "standup", []string{"alice", "bob"}, time.Now().UTC())

	ok, err := access.CanViewThread("alice", thread)
	req.NoError(err)
	req.True(ok)

	ok, err = access.CanViewThread("charlie", thread)
	req.NoError(err)
	req.False(ok)

	ok, err = access.CanViewThread("dave", thread)
	req.NoError(err)
	req.True(ok, "admins bypass participation")
}
