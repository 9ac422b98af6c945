package services

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"
	"agent-mail/index"
	"agent-mail/observability"
	"agent-mail/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// Thread and message writes are commutative merges, so a transaction
// aborted by badger's conflict detection can simply re-run against
// fresh state. Contact writes are CAS-guarded and never retried.
const maxMergeRetries = 5

type IMailService interface {
	Send(actor string, to []string, subject, body string, tags []string) (domain.Message, error)
	Reply(actor, messageID, body string, tags []string) (domain.Message, error)
	ReplyThread(actor, threadID, body string, tags []string) (domain.Message, error)
	Broadcast(actor string, to []string, subject, body string, tags []string) ([]domain.Message, error)
	GetThread(actor, threadID string) (domain.Thread, error)
	ListThreads(actor string, limit, offset int, includeArchived bool) ([]domain.Thread, error)
	GetMessage(actor, messageID string) (domain.Message, error)
	ListMessages(actor, threadID string, limit, offset int) ([]domain.Message, error)
	SearchMessages(actor string, query repositories.SearchQuery) ([]domain.Message, error)
	MessagesSince(token string) ([]domain.Message, error)
	SetThreadMetadata(actor, threadID, key string, value *string) error
	ArchiveThread(actor, threadID string) error
	UnarchiveThread(actor, threadID string) error
	AddContact(actor, handle, displayName, description string, tags []string) (domain.Contact, error)
	UpdateContact(actor, handle string, expectedVersion int64, fields ContactFields) (domain.Contact, error)
	DeactivateContact(actor, handle string, expectedVersion int64) (domain.Contact, error)
	GetContact(handle string) (domain.Contact, error)
	ListContacts(opts repositories.ContactListOptions) ([]domain.Contact, error)
	SearchContacts(query string, activeOnly bool) ([]domain.Contact, error)
	ListAudit(filter repositories.AuditFilter) ([]domain.AuditEvent, error)
}

// ContactFields carries the mutable contact attributes of an update;
// nil fields are left untouched.
type ContactFields struct {
	DisplayName *string
	Description *string
	Tags        *[]string
	IsActive    *bool
}

// MailService composes the stores into the externally visible
// operations. It owns no state of its own: every mutating call runs as
// one badger transaction carrying the mutation plus exactly one audit
// event, so partial application cannot persist.
type MailService struct {
	db       *badger.DB
	threads  repositories.IThreadRepository
	messages repositories.IMessageRepository
	contacts repositories.IContactRepository
	audit    repositories.IAuditRepository
	access   *Access
	index    *index.Messages
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewMailService wires the facade. idx and metrics may be nil: search
// then falls back to a store scan and counters are skipped.
func NewMailService(
	db *badger.DB,
	threads repositories.IThreadRepository,
	messages repositories.IMessageRepository,
	contacts repositories.IContactRepository,
	audit repositories.IAuditRepository,
	idx *index.Messages,
	metrics *observability.Metrics,
	log *slog.Logger,
) *MailService {
	return &MailService{
		db:       db,
		threads:  threads,
		messages: messages,
		contacts: contacts,
		audit:    audit,
		access:   NewAccess(contacts),
		index:    idx,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Access exposes the visibility checker for collaborators that only
// need IsAdmin/CanViewThread.
func (s *MailService) Access() *Access { return s.access }

// Send validates the request, creates a thread whose participants are
// {actor} ∪ to, appends the first message and records one audit event,
// all in a single transaction.
func (s *MailService) Send(actor string, to []string, subject, body string, tags []string) (domain.Message, error) {
	req := SendRequest{From: actor, To: to, Subject: subject, Body: body, Tags: tags}
	if err := ValidateSend(&req); err != nil {
		return domain.Message{}, err
	}

	now := s.now().UTC()
	threadID, msgID, auditID, err := s.mintTokens()
	if err != nil {
		return domain.Message{}, err
	}

	thread := domain.NewThread(threadID, req.Subject, append([]string{actor}, req.To...), now)
	message := domain.Message{
		ID:        msgID,
		ThreadID:  threadID,
		From:      actor,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		CreatedAt: now,
		Tags:      req.Tags,
	}

	err = s.runMerge(func(txn *badger.Txn) error {
		if err := s.threads.Create(txn, thread); err != nil {
			return err
		}
		if err := s.messages.Append(txn, message); err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: domain.EventMessageSent,
			Actor:     actor,
			Target:    msgID,
			Details:   map[string]string{"thread_id": threadID},
			At:        now,
		})
	})
	if err != nil {
		return domain.Message{}, storageErr(err)
	}

	s.indexMessage(message)
	s.metrics.IncrSends()
	s.log.Debug("message sent", "thread", threadID, "message", msgID, "from", actor)
	return message, nil
}

// Reply appends a message to the thread of messageID. Recipients
// reverse direction: the original sender when actor is someone else,
// the original recipients when the actor replies to their own message.
// The thread's participant set grows by union, never by overwrite.
func (s *MailService) Reply(actor, messageID, body string, tags []string) (domain.Message, error) {
	req := ReplyRequest{Actor: actor, MessageID: messageID, Body: body, Tags: tags}
	if err := ValidateReply(&req); err != nil {
		return domain.Message{}, err
	}

	original, err := s.messages.Get(messageID)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	thread, err := s.threads.Get(original.ThreadID)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	visible, err := s.access.CanViewThread(actor, thread)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	if !visible {
		// Indistinguishable from a missing message: existence must not leak.
		return domain.Message{}, mailerrors.NotFound("message", messageID)
	}

	recipients := original.To
	if actor != original.From {
		recipients = []string{original.From}
	}

	now := s.now().UTC()
	_, msgID, auditID, err := s.mintTokens()
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:        msgID,
		ThreadID:  original.ThreadID,
		From:      actor,
		To:        recipients,
		Subject:   original.Subject,
		Body:      req.Body,
		CreatedAt: now,
		InReplyTo: messageID,
		Tags:      req.Tags,
	}

	err = s.runMerge(func(txn *badger.Txn) error {
		fresh, err := s.threads.GetTxn(txn, original.ThreadID)
		if err != nil {
			return err
		}
		fresh.AddParticipants(append([]string{actor}, recipients...)...)
		fresh.LastActivity = now
		if err := s.threads.Save(txn, fresh); err != nil {
			return err
		}
		if err := s.messages.Append(txn, message); err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: domain.EventMessageReplied,
			Actor:     actor,
			Target:    msgID,
			Details:   map[string]string{"thread_id": original.ThreadID, "in_reply_to": messageID},
			At:        now,
		})
	})
	if err != nil {
		return domain.Message{}, storageErr(err)
	}

	s.indexMessage(message)
	s.metrics.IncrReplies()
	return message, nil
}

// ReplyThread replies to the most recent message of the thread.
func (s *MailService) ReplyThread(actor, threadID, body string, tags []string) (domain.Message, error) {
	thread, err := s.GetThread(actor, threadID)
	if err != nil {
		return domain.Message{}, err
	}
	messages, err := s.messages.ListThread(thread.ID)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	if len(messages) == 0 {
		return domain.Message{}, mailerrors.NotFound("thread", threadID)
	}
	return s.Reply(actor, messages[len(messages)-1].ID, body, tags)
}

// Broadcast sends the same content once per recipient, producing one
// independent two-party thread each. This is deliberately distinct
// from Send with multiple recipients, which produces a single shared
// multi-party thread.
func (s *MailService) Broadcast(actor string, to []string, subject, body string, tags []string) ([]domain.Message, error) {
	req := SendRequest{From: actor, To: to, Subject: subject, Body: body, Tags: tags}
	if err := ValidateSend(&req); err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(req.To))
	for _, recipient := range req.To {
		message, err := s.Send(actor, []string{recipient}, req.Subject, req.Body, req.Tags)
		if err != nil {
			return messages, err
		}
		messages = append(messages, message)
	}
	s.metrics.IncrBroadcasts()
	return messages, nil
}

// GetThread returns the thread when it exists and the actor may see
// it. A missing thread and an invisible one are the same NotFound.
func (s *MailService) GetThread(actor, threadID string) (domain.Thread, error) {
	if err := ValidateThread(ThreadRequest{Actor: actor, ThreadID: threadID}); err != nil {
		return domain.Thread{}, err
	}
	thread, err := s.threads.Get(threadID)
	if err != nil {
		return domain.Thread{}, storageErr(err)
	}
	visible, err := s.access.CanViewThread(actor, thread)
	if err != nil {
		return domain.Thread{}, storageErr(err)
	}
	if !visible {
		return domain.Thread{}, mailerrors.NotFound("thread", threadID)
	}
	return thread, nil
}

// ListThreads returns threads visible to the actor, most recently
// active first. Admins see every thread.
func (s *MailService) ListThreads(actor string, limit, offset int, includeArchived bool) ([]domain.Thread, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	admin, err := s.access.IsAdmin(actor)
	if err != nil {
		return nil, storageErr(err)
	}
	threads, err := s.threads.List(includeArchived)
	if err != nil {
		return nil, storageErr(err)
	}
	if !admin {
		threads = lo.Filter(threads, func(thread domain.Thread, _ int) bool {
			return thread.HasParticipant(actor)
		})
	}
	return paginate(threads, limit, offset), nil
}

// GetMessage resolves the owning thread and applies the same
// visibility rule as GetThread.
func (s *MailService) GetMessage(actor, messageID string) (domain.Message, error) {
	message, err := s.messages.Get(messageID)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	thread, err := s.threads.Get(message.ThreadID)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	visible, err := s.access.CanViewThread(actor, thread)
	if err != nil {
		return domain.Message{}, storageErr(err)
	}
	if !visible {
		return domain.Message{}, mailerrors.NotFound("message", messageID)
	}
	return message, nil
}

// ListMessages lists a thread in reading order when threadID is given,
// or all visible messages most recent first when it is empty.
func (s *MailService) ListMessages(actor, threadID string, limit, offset int) ([]domain.Message, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	if threadID != "" {
		thread, err := s.GetThread(actor, threadID)
		if err != nil {
			return nil, err
		}
		messages, err := s.messages.ListThread(thread.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		return paginate(messages, limit, offset), nil
	}

	visible, err := s.visibilityFilter(actor)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.ListRecent(limit, offset, visible)
	if err != nil {
		return nil, storageErr(err)
	}
	return messages, nil
}

// SearchMessages matches query.Text case-insensitively against subject
// and/or body, AND-combined with sender/recipient filters and the
// actor's visibility. With a bluge index configured the candidate set
// comes from the index; badger remains the source of truth either way.
func (s *MailService) SearchMessages(actor string, query repositories.SearchQuery) ([]domain.Message, error) {
	if !query.InSubject && !query.InBody {
		query.InSubject = true
		query.InBody = true
	}
	visible, err := s.visibilityFilter(actor)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrSearches()

	// The index only serves bounded plain-text queries. Text carrying
	// bluge wildcard metacharacters must match literally, and a query
	// without a limit must not lose hits to a candidate cap; both walk
	// the store instead.
	if s.index == nil || query.Text == "" || query.Limit <= 0 ||
		strings.ContainsAny(query.Text, "*?") {
		messages, err := s.messages.Search(query, visible)
		if err != nil {
			return nil, storageErr(err)
		}
		return messages, nil
	}

	// Fetch candidates beyond the requested page: post-filtering by
	// sender, recipient and visibility prunes an unknown share.
	candidates := query.Limit * 4
	ids, err := s.index.Search(context.Background(), query.Text, query.InSubject, query.InBody, candidates)
	if err != nil {
		return nil, storageErr(err)
	}

	var messages []domain.Message
	for _, id := range ids {
		message, err := s.messages.Get(id)
		if err != nil {
			if mailerrors.IsNotFound(err) {
				continue
			}
			return nil, storageErr(err)
		}
		if query.From != "" && message.From != query.From {
			continue
		}
		if query.To != "" && !lo.Contains(message.To, query.To) {
			continue
		}
		if visible != nil && !visible(message) {
			continue
		}
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID > messages[j].ID })
	if query.Limit > 0 && len(messages) > query.Limit {
		messages = messages[:query.Limit]
	}
	return messages, nil
}

// MessagesSince is the polling primitive: every message with id
// strictly greater than token, in ascending order.
func (s *MailService) MessagesSince(token string) ([]domain.Message, error) {
	messages, err := s.messages.Since(token)
	if err != nil {
		return nil, storageErr(err)
	}
	return messages, nil
}

// SetThreadMetadata upserts key into the thread metadata; a nil value
// removes it.
func (s *MailService) SetThreadMetadata(actor, threadID, key string, value *string) error {
	req := MetadataRequest{Actor: actor, ThreadID: threadID, Key: key}
	if err := ValidateMetadata(&req); err != nil {
		return err
	}
	if _, err := s.GetThread(actor, threadID); err != nil {
		return err
	}

	now := s.now().UTC()
	auditID, err := s.mintToken()
	if err != nil {
		return err
	}
	details := map[string]string{"key": req.Key}
	if value != nil {
		details["value"] = *value
	} else {
		details["removed"] = "true"
	}

	err = s.runMerge(func(txn *badger.Txn) error {
		thread, err := s.threads.GetTxn(txn, threadID)
		if err != nil {
			return err
		}
		thread.SetMetadata(req.Key, value)
		if err := s.threads.Save(txn, thread); err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: domain.EventThreadMetadataSet,
			Actor:     actor,
			Target:    threadID,
			Details:   details,
			At:        now,
		})
	})
	return storageErr(err)
}

// ArchiveThread marks the thread archived. Idempotent.
func (s *MailService) ArchiveThread(actor, threadID string) error {
	return s.setArchived(actor, threadID, true, domain.EventThreadArchived)
}

// UnarchiveThread clears the archived flag. Idempotent.
func (s *MailService) UnarchiveThread(actor, threadID string) error {
	return s.setArchived(actor, threadID, false, domain.EventThreadUnarchived)
}

func (s *MailService) setArchived(actor, threadID string, archived bool, eventType string) error {
	if _, err := s.GetThread(actor, threadID); err != nil {
		return err
	}

	now := s.now().UTC()
	auditID, err := s.mintToken()
	if err != nil {
		return err
	}
	err = s.runMerge(func(txn *badger.Txn) error {
		thread, err := s.threads.GetTxn(txn, threadID)
		if err != nil {
			return err
		}
		thread.Archived = archived
		if err := s.threads.Save(txn, thread); err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: eventType,
			Actor:     actor,
			Target:    threadID,
			At:        now,
		})
	})
	return storageErr(err)
}

// AddContact registers a new address-book entry with version 1.
func (s *MailService) AddContact(actor, handle, displayName, description string, tags []string) (domain.Contact, error) {
	req := AddContactRequest{Actor: actor, Handle: handle, DisplayName: displayName, Description: description, Tags: tags}
	if err := ValidateAddContact(req); err != nil {
		return domain.Contact{}, err
	}

	now := s.now().UTC()
	auditID, err := s.mintToken()
	if err != nil {
		return domain.Contact{}, err
	}
	contact := domain.Contact{
		Handle:      handle,
		DisplayName: displayName,
		Description: description,
		Tags:        tags,
		IsActive:    true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   actor,
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := s.contacts.Add(txn, contact); err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: domain.EventContactAdded,
			Actor:     actor,
			Target:    handle,
			At:        now,
		})
	})
	if err != nil {
		// Two concurrent Adds both pass the existence check; badger
		// aborts one at commit, which is the same duplicate.
		if mailerrors.Is(err, badger.ErrConflict) {
			return domain.Contact{}, mailerrors.AlreadyExists("contact", handle)
		}
		return domain.Contact{}, storageErr(err)
	}
	s.metrics.IncrContactWrites()
	return contact, nil
}

// UpdateContact applies fields under optimistic concurrency. Exactly
// one of two racing updates against the same expectedVersion succeeds;
// the loser gets VersionConflict and must re-read. The store never
// retries on the caller's behalf.
func (s *MailService) UpdateContact(actor, handle string, expectedVersion int64, fields ContactFields) (domain.Contact, error) {
	return s.updateContact(actor, handle, expectedVersion, fields, domain.EventContactUpdated)
}

// DeactivateContact is the only way to "delete" a contact: a versioned
// update flipping is_active to false. A second call with the now-stale
// version fails with VersionConflict rather than silently succeeding.
func (s *MailService) DeactivateContact(actor, handle string, expectedVersion int64) (domain.Contact, error) {
	inactive := false
	return s.updateContact(actor, handle, expectedVersion, ContactFields{IsActive: &inactive}, domain.EventContactDeactivated)
}

func (s *MailService) updateContact(actor, handle string, expectedVersion int64, fields ContactFields, eventType string) (domain.Contact, error) {
	req := UpdateContactRequest{
		Actor:           actor,
		Handle:          handle,
		ExpectedVersion: expectedVersion,
		DisplayName:     fields.DisplayName,
		Description:     fields.Description,
		Tags:            fields.Tags,
	}
	if err := ValidateUpdateContact(req); err != nil {
		return domain.Contact{}, err
	}

	now := s.now().UTC()
	auditID, err := s.mintToken()
	if err != nil {
		return domain.Contact{}, err
	}

	var updated domain.Contact
	err = s.db.Update(func(txn *badger.Txn) error {
		var err error
		updated, err = s.contacts.Update(txn, handle, expectedVersion, actor, now, func(contact *domain.Contact) {
			if fields.DisplayName != nil {
				contact.DisplayName = *fields.DisplayName
			}
			if fields.Description != nil {
				contact.Description = *fields.Description
			}
			if fields.Tags != nil {
				contact.Tags = *fields.Tags
			}
			if fields.IsActive != nil {
				contact.IsActive = *fields.IsActive
			}
		})
		if err != nil {
			return err
		}
		return s.audit.Append(txn, domain.AuditEvent{
			ID:        auditID,
			EventType: eventType,
			Actor:     actor,
			Target:    handle,
			Details:   map[string]string{"version": strconv.FormatInt(updated.Version, 10)},
			At:        now,
		})
	})
	if err != nil {
		if mailerrors.Is(err, badger.ErrConflict) {
			s.metrics.IncrVersionConflicts()
			return domain.Contact{}, mailerrors.VersionConflict(handle, expectedVersion)
		}
		if mailerrors.IsVersionConflict(err) {
			s.metrics.IncrVersionConflicts()
		}
		return domain.Contact{}, storageErr(err)
	}
	s.metrics.IncrContactWrites()
	return updated, nil
}

func (s *MailService) GetContact(handle string) (domain.Contact, error) {
	contact, err := s.contacts.Get(handle)
	if err != nil {
		return domain.Contact{}, storageErr(err)
	}
	return contact, nil
}

func (s *MailService) ListContacts(opts repositories.ContactListOptions) ([]domain.Contact, error) {
	contacts, err := s.contacts.List(opts)
	if err != nil {
		return nil, storageErr(err)
	}
	return contacts, nil
}

// SearchContacts matches handle, display name or description.
func (s *MailService) SearchContacts(query string, activeOnly bool) ([]domain.Contact, error) {
	return s.ListContacts(repositories.ContactListOptions{ActiveOnly: activeOnly, Search: query})
}

func (s *MailService) ListAudit(filter repositories.AuditFilter) ([]domain.AuditEvent, error) {
	events, err := s.audit.List(filter)
	if err != nil {
		return nil, storageErr(err)
	}
	return events, nil
}

// visibilityFilter returns nil for admins (everything visible) or a
// per-call closure caching thread membership lookups.
func (s *MailService) visibilityFilter(actor string) (func(domain.Message) bool, error) {
	admin, err := s.access.IsAdmin(actor)
	if err != nil {
		return nil, storageErr(err)
	}
	if admin {
		return nil, nil
	}
	cache := make(map[string]bool)
	return func(message domain.Message) bool {
		if visible, ok := cache[message.ThreadID]; ok {
			return visible
		}
		thread, err := s.threads.Get(message.ThreadID)
		visible := err == nil && thread.HasParticipant(actor)
		cache[message.ThreadID] = visible
		return visible
	}, nil
}

// runMerge commits fn, re-running it on commit conflicts. The closure
// re-reads its inputs, so racing commutative writers converge instead
// of losing updates.
func (s *MailService) runMerge(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxMergeRetries {
		err = s.db.Update(fn)
		if !mailerrors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *MailService) indexMessage(message domain.Message) {
	if s.index == nil {
		return
	}
	if err := s.index.Index(message); err != nil {
		// The committed store is the source of truth; a failed index
		// write only affects search recall.
		s.log.Warn("indexing message", "message", message.ID, "error", err)
	}
}

func (s *MailService) mintToken() (string, error) {
	token, err := domain.NewToken()
	if err != nil {
		return "", mailerrors.Storage(err)
	}
	return token, nil
}

func (s *MailService) mintTokens() (string, string, string, error) {
	threadID, err := s.mintToken()
	if err != nil {
		return "", "", "", err
	}
	msgID, err := s.mintToken()
	if err != nil {
		return "", "", "", err
	}
	auditID, err := s.mintToken()
	if err != nil {
		return "", "", "", err
	}
	return threadID, msgID, auditID, nil
}

// storageErr passes taxonomy errors through and wraps anything else as
// a storage failure. Never swallows.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var e *mailerrors.Error
	if mailerrors.As(err, &e) {
		return err
	}
	return mailerrors.Storage(err)
}

// validatePage rejects negative paging arguments before any slice
// expression can see them. Zero means unlimited / from the start.
func validatePage(limit, offset int) error {
	if limit < 0 || offset < 0 {
		return mailerrors.Validation("limit and offset must not be negative")
	}
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
