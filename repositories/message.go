//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"

	"github.com/dgraph-io/badger/v4"
)

// Message keys:
//
//	msg:{message_id}              -> full record
//	tmsg:{thread_id}:{message_id} -> empty (thread index)
//
// Ids are UUIDv7 tokens, so key order under either prefix equals
// creation order. Global scans over "msg:" serve recent-first listing
// and the since-cursor; the "tmsg:" index serves per-thread reads.
const (
	msgKeyPrefix       = "msg:"
	threadMsgKeyPrefix = "tmsg:"
)

// SearchQuery describes a message search. Text is matched as a
// case-insensitive substring against the selected fields; From and To
// narrow by sender/recipient when non-empty.
type SearchQuery struct {
	Text      string
	InSubject bool
	InBody    bool
	From      string
	To        string
	Limit     int
}

type IMessageRepository interface {
	Append(txn *badger.Txn, message domain.Message) error
	Get(id string) (domain.Message, error)
	GetTxn(txn *badger.Txn, id string) (domain.Message, error)
	ListThread(threadID string) ([]domain.Message, error)
	ListRecent(limit, offset int, visible func(domain.Message) bool) ([]domain.Message, error)
	Search(query SearchQuery, visible func(domain.Message) bool) ([]domain.Message, error)
	Since(token string) ([]domain.Message, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

// NewMessageRepository builds a message store. limitMessages, when set,
// caps unbounded listing and search results.
func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) IMessageRepository {
	return &MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type storedMessage struct {
	ID        string   `json:"id"`
	ThreadID  string   `json:"thread_id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	CreatedAt int64    `json:"created_at"`
	InReplyTo string   `json:"in_reply_to,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func msgKey(id string) []byte {
	return []byte(msgKeyPrefix + id)
}

func threadMsgKey(threadID, msgID string) []byte {
	return []byte(threadMsgKeyPrefix + threadID + ":" + msgID)
}

// Append persists the message and its thread-index entry inside the
// caller's transaction. Messages are immutable once written.
func (r MessageRepository) Append(txn *badger.Txn, message domain.Message) error {
	bytes, err := json.Marshal(fromMessage(message))
	if err != nil {
		return err
	}
	if err = txn.Set(msgKey(message.ID), bytes); err != nil {
		return err
	}
	return txn.Set(threadMsgKey(message.ThreadID, message.ID), nil)
}

func (r MessageRepository) Get(id string) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = r.GetTxn(txn, id)
		return err
	})
	return message, err
}

func (r MessageRepository) GetTxn(txn *badger.Txn, id string) (domain.Message, error) {
	item, err := txn.Get(msgKey(id))
	if err != nil {
		if mailerrors.Is(err, badger.ErrKeyNotFound) {
			return domain.Message{}, mailerrors.NotFound("message", id)
		}
		return domain.Message{}, err
	}
	var stored storedMessage
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return domain.Message{}, err
	}
	return toMessage(stored), nil
}

// ListThread returns every message of a thread in reading order
// (created_at ascending, which is id ascending by construction).
func (r MessageRepository) ListThread(threadID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := threadMsgKeyPrefix + threadID + ":"
		prefix := []byte(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefixStr):])
			message, err := r.GetTxn(txn, id)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

// ListRecent scans messages most recent first. visible, when non-nil,
// filters before offset/limit are applied so visibility never skews
// pagination.
func (r MessageRepository) ListRecent(limit, offset int, visible func(domain.Message) bool) ([]domain.Message, error) {
	limit = r.effectiveLimit(limit)
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		skipped := 0
		return r.scanReverse(txn, func(message domain.Message) bool {
			if visible != nil && !visible(message) {
				return true
			}
			if skipped < offset {
				skipped++
				return true
			}
			messages = append(messages, message)
			return limit <= 0 || len(messages) < limit
		})
	})
	return messages, err
}

// Search walks messages most recent first and keeps those matching the
// query, the sender/recipient filters and the visibility filter.
func (r MessageRepository) Search(query SearchQuery, visible func(domain.Message) bool) ([]domain.Message, error) {
	limit := r.effectiveLimit(query.Limit)
	needle := strings.ToLower(query.Text)
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		return r.scanReverse(txn, func(message domain.Message) bool {
			if !matchesQuery(message, query, needle) {
				return true
			}
			if visible != nil && !visible(message) {
				return true
			}
			messages = append(messages, message)
			return limit <= 0 || len(messages) < limit
		})
	})
	return messages, err
}

// Since returns every message with id strictly greater than token, in
// ascending order. The cursor rides on id sortability, not wall-clock
// time, so repeated polls neither miss nor duplicate entries.
func (r MessageRepository) Since(token string) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(msgKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seek := prefix
		if token != "" {
			seek = msgKey(token)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(msgKeyPrefix):])
			if token != "" && id <= token {
				continue
			}
			var stored storedMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return err
			}
			messages = append(messages, toMessage(stored))
		}
		return nil
	})
	return messages, err
}

// scanReverse iterates all messages newest first, calling fn until it
// returns false.
func (r MessageRepository) scanReverse(txn *badger.Txn, fn func(domain.Message) bool) error {
	prefix := []byte(msgKeyPrefix)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := txn.NewIterator(options)
	defer it.Close()

	// Message ids are below 0xff, so prefix+0xff seeks past the newest key.
	seek := append(append([]byte{}, prefix...), 0xff)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var stored storedMessage
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
		if err != nil {
			return err
		}
		if !fn(toMessage(stored)) {
			return nil
		}
	}
	return nil
}

func (r MessageRepository) effectiveLimit(limit int) int {
	if limit <= 0 && r.limitMessages != nil {
		return *r.limitMessages
	}
	return limit
}

func matchesQuery(message domain.Message, query SearchQuery, needle string) bool {
	if query.From != "" && message.From != query.From {
		return false
	}
	if query.To != "" && !slices.Contains(message.To, query.To) {
		return false
	}
	if needle == "" {
		return true
	}
	if query.InSubject && strings.Contains(strings.ToLower(message.Subject), needle) {
		return true
	}
	if query.InBody && strings.Contains(strings.ToLower(message.Body), needle) {
		return true
	}
	return false
}

func fromMessage(message domain.Message) storedMessage {
	return storedMessage{
		ID:        message.ID,
		ThreadID:  message.ThreadID,
		From:      message.From,
		To:        message.To,
		Subject:   message.Subject,
		Body:      message.Body,
		CreatedAt: message.CreatedAt.UnixNano(),
		InReplyTo: message.InReplyTo,
		Tags:      message.Tags,
	}
}

func toMessage(stored storedMessage) domain.Message {
	return domain.Message{
		ID:        stored.ID,
		ThreadID:  stored.ThreadID,
		From:      stored.From,
		To:        stored.To,
		Subject:   stored.Subject,
		Body:      stored.Body,
		CreatedAt: time.Unix(0, stored.CreatedAt).UTC(),
		InReplyTo: stored.InReplyTo,
		Tags:      stored.Tags,
	}
}
