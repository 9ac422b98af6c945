//go:generate go run go.uber.org/mock/mockgen -source=thread.go -destination=../mocks/mock_thread_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const threadKeyPrefix = "thread:"

type IThreadRepository interface {
	Create(txn *badger.Txn, thread domain.Thread) error
	Save(txn *badger.Txn, thread domain.Thread) error
	Get(id string) (domain.Thread, error)
	GetTxn(txn *badger.Txn, id string) (domain.Thread, error)
	List(includeArchived bool) ([]domain.Thread, error)
}

type ThreadRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewThreadRepository(db *badger.DB, log *slog.Logger) IThreadRepository {
	return &ThreadRepository{db: db, log: log}
}

// storedThread is the on-disk shape. Serialization stays at this
// boundary; the domain type never sees it.
type storedThread struct {
	ID           string            `json:"id"`
	Subject      string            `json:"subject"`
	Participants []string          `json:"participants"`
	CreatedAt    int64             `json:"created_at"`
	LastActivity int64             `json:"last_activity_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Archived     bool              `json:"archived,omitempty"`
}

func threadKey(id string) []byte {
	return []byte(threadKeyPrefix + id)
}

// Create persists a new thread inside the caller's transaction. Ids are
// freshly minted sortable tokens, so no duplicate check is needed.
func (r ThreadRepository) Create(txn *badger.Txn, thread domain.Thread) error {
	return r.Save(txn, thread)
}

func (r ThreadRepository) Save(txn *badger.Txn, thread domain.Thread) error {
	bytes, err := json.Marshal(fromThread(thread))
	if err != nil {
		return err
	}
	return txn.Set(threadKey(thread.ID), bytes)
}

func (r ThreadRepository) Get(id string) (domain.Thread, error) {
	var thread domain.Thread
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		thread, err = r.GetTxn(txn, id)
		return err
	})
	return thread, err
}

func (r ThreadRepository) GetTxn(txn *badger.Txn, id string) (domain.Thread, error) {
	item, err := txn.Get(threadKey(id))
	if err != nil {
		if mailerrors.Is(err, badger.ErrKeyNotFound) {
			return domain.Thread{}, mailerrors.NotFound("thread", id)
		}
		return domain.Thread{}, err
	}
	var stored storedThread
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return domain.Thread{}, err
	}
	return toThread(stored), nil
}

// List returns every thread ordered by last activity, most recent
// first. Visibility filtering and pagination belong to the caller.
func (r ThreadRepository) List(includeArchived bool) ([]domain.Thread, error) {
	var threads []domain.Thread
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(threadKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var stored storedThread
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return err
			}
			if stored.Archived && !includeArchived {
				continue
			}
			threads = append(threads, toThread(stored))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastActivity.After(threads[j].LastActivity)
	})
	return threads, nil
}

func fromThread(thread domain.Thread) storedThread {
	return storedThread{
		ID:           thread.ID,
		Subject:      thread.Subject,
		Participants: thread.Participants,
		CreatedAt:    thread.CreatedAt.UnixNano(),
		LastActivity: thread.LastActivity.UnixNano(),
		Metadata:     thread.Metadata,
		Archived:     thread.Archived,
	}
}

func toThread(stored storedThread) domain.Thread {
	return domain.Thread{
		ID:           stored.ID,
		Subject:      stored.Subject,
		Participants: lo.Ternary(stored.Participants != nil, stored.Participants, []string{}),
		CreatedAt:    time.Unix(0, stored.CreatedAt).UTC(),
		LastActivity: time.Unix(0, stored.LastActivity).UTC(),
		Metadata:     stored.Metadata,
		Archived:     stored.Archived,
	}
}
