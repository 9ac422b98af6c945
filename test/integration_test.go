package test

import (
	"testing"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"
	"agent-mail/index"
	"agent-mail/internal"
	"agent-mail/observability"
	"agent-mail/repositories"
	"agent-mail/services"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// newStack wires the full service the way cmd/mailroom does, on
// throwaway directories.
func newStack(t *testing.T) services.IMailService {
	t.Helper()
	req := require.New(t)

	// Reduced to 16 Mo for testing (avoid 20 Go of storage)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	log := internal.GetLoggerFromString("DEBUG")
	return services.NewMailService(
		db,
		repositories.NewThreadRepository(db, log),
		repositories.NewMessageRepository(db, log, lo.ToPtr(100)),
		repositories.NewContactRepository(db, log),
		repositories.NewAuditRepository(db, log),
		index.NewMessages(writer, log),
		observability.NewMetrics(log),
		log,
	)
}

// A conversation between three agents: send, reply both ways, search,
// archive, with the audit trail following every step.
func Test_Scenario_Conversation(t *testing.T) {
	req := require.New(t)
	mail := newStack(t)

	first, err := mail.Send("orchestrator", []string{"builder", "reviewer"},
		"release checklist", "please confirm the migration plan", nil)
	req.NoError(err)

	// Builder answers the orchestrator only.
	second, err := mail.Reply("builder", first.ID, "migration plan confirmed", nil)
	req.NoError(err)
	req.Equal([]string{"orchestrator"}, second.To)
	req.Equal(first.ThreadID, second.ThreadID)

	// Orchestrator follows up on their own thread.
	third, err := mail.ReplyThread("orchestrator", first.ThreadID, "thanks, shipping tonight", nil)
	req.NoError(err)
	req.Equal(second.ID, third.InReplyTo)

	messages, err := mail.ListMessages("reviewer", first.ThreadID, 0, 0)
	req.NoError(err)
	req.Equal([]string{first.ID, second.ID, third.ID},
		lo.Map(messages, func(m domain.Message, _ int) string { return m.ID }))

	// Full-text search through the bluge index.
	found, err := mail.SearchMessages("reviewer", repositories.SearchQuery{Text: "migration", Limit: 10})
	req.NoError(err)
	req.Len(found, 2)

	// Archiving removes the thread from the default listing but keeps
	// every message readable.
	req.NoError(mail.ArchiveThread("orchestrator", first.ThreadID))
	threads, err := mail.ListThreads("builder", 0, 0, false)
	req.NoError(err)
	req.Empty(threads)
	messages, err = mail.ListMessages("builder", first.ThreadID, 0, 0)
	req.NoError(err)
	req.Len(messages, 3)

	events, err := mail.ListAudit(repositories.AuditFilter{})
	req.NoError(err)
	req.Len(events, 4, "send, two replies, archive")
}

// Visibility: outsiders get indistinguishable not-found answers until
// an admin tag opens the store, and losing the tag closes it again.
func Test_Scenario_Visibility(t *testing.T) {
	req := require.New(t)
	mail := newStack(t)

	message, err := mail.Send("alice", []string{"bob"}, "payroll", "numbers attached", nil)
	req.NoError(err)

	_, err = mail.GetThread("mallory", message.ThreadID)
	req.True(mailerrors.IsNotFound(err))
	_, err = mail.GetThread("mallory", "never-existed")
	req.True(mailerrors.IsNotFound(err), "hidden and missing must be the same answer")

	auditor, err := mail.AddContact("alice", "auditor", "", "", []string{"admin"})
	req.NoError(err)

	thread, err := mail.GetThread("auditor", message.ThreadID)
	req.NoError(err)
	req.NotContains(thread.Participants, "auditor", "reading does not join the thread")

	found, err := mail.SearchMessages("auditor", repositories.SearchQuery{Text: "payroll", InSubject: true, Limit: 10})
	req.NoError(err)
	req.Len(found, 1)

	// Revoking the tag takes effect on the next call.
	empty := []string{}
	_, err = mail.UpdateContact("alice", "auditor", auditor.Version, services.ContactFields{Tags: &empty})
	req.NoError(err)
	_, err = mail.GetThread("auditor", message.ThreadID)
	req.True(mailerrors.IsNotFound(err))
}

// Contact registry under optimistic concurrency: two writers race on
// the same version, one wins, the loser retries with a fresh read.
func Test_Scenario_Contact_Race(t *testing.T) {
	req := require.New(t)
	mail := newStack(t)

	contact, err := mail.AddContact("ops", "builder", "Builder", "runs CI", []string{"bot"})
	req.NoError(err)
	req.Equal(int64(1), contact.Version)

	nameA, nameB := "Builder (blue)", "Builder (green)"
	_, errA := mail.UpdateContact("ops", "builder", contact.Version, services.ContactFields{DisplayName: &nameA})
	_, errB := mail.UpdateContact("ops", "builder", contact.Version, services.ContactFields{DisplayName: &nameB})
	req.True((errA == nil) != (errB == nil), "exactly one writer wins the version")
	loser := lo.Ternary(errA != nil, errA, errB)
	req.True(mailerrors.IsVersionConflict(loser))

	fresh, err := mail.GetContact("builder")
	req.NoError(err)
	req.Equal(int64(2), fresh.Version)
	_, err = mail.UpdateContact("ops", "builder", fresh.Version, services.ContactFields{DisplayName: &nameB})
	req.NoError(err)

	deactivated, err := mail.DeactivateContact("ops", "builder", int64(3))
	req.NoError(err)
	req.False(deactivated.IsActive)

	contacts, err := mail.ListContacts(repositories.ContactListOptions{ActiveOnly: true})
	req.NoError(err)
	req.Empty(contacts)
	contacts, err = mail.ListContacts(repositories.ContactListOptions{})
	req.NoError(err)
	req.Len(contacts, 1, "deactivation keeps the record")

	events, err := mail.ListAudit(repositories.AuditFilter{Actor: "ops"})
	req.NoError(err)
	req.Len(events, 4, "add, two successful updates, deactivate")
}
