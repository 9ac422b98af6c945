// Package index maintains a Bluge projection of the message store used
// to accelerate search. Badger stays the source of truth: search hits
// are resolved back through the repositories, so a stale index can only
// cost recall, never correctness.
package index

import (
	"context"
	"log/slog"
	"strings"

	"agent-mail/domain"

	"github.com/blugelabs/bluge"
)

type Messages struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessages(writer *bluge.Writer, log *slog.Logger) *Messages {
	return &Messages{writer: writer, log: log}
}

// Index upserts one message. Subject and body are stored lowercased as
// single keyword terms so wildcard queries keep exact substring
// semantics instead of tokenized matching.
func (m *Messages) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID).
		AddField(bluge.NewKeywordField("subject", strings.ToLower(message.Subject))).
		AddField(bluge.NewKeywordField("body", strings.ToLower(message.Body))).
		AddField(bluge.NewKeywordField("from", message.From))
	return m.writer.Update(doc.ID(), doc)
}

// Search returns the ids of messages whose subject and/or body contain
// text, newest-first resolution being left to the caller. limit caps
// the candidate set.
func (m *Messages) Search(ctx context.Context, text string, inSubject, inBody bool, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "*" + strings.ToLower(text) + "*"

	query := bluge.NewBooleanQuery()
	if inSubject {
		query.AddShould(bluge.NewWildcardQuery(pattern).SetField("subject"))
	}
	if inBody {
		query.AddShould(bluge.NewWildcardQuery(pattern).SetField("body"))
	}
	query.SetMinShould(1)

	reader, err := m.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			m.log.Error("closing index reader", "error", err)
		}
	}()

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []string
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
