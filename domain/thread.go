package domain

import (
	"slices"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Thread is a conversation container. Its participant set is the union
// of every sender and recipient that ever touched the thread: it only
// grows, never shrinks, and is always kept sorted and unique.
type Thread struct {
	ID           string
	Subject      string
	Participants []string
	CreatedAt    time.Time
	LastActivity time.Time
	Metadata     map[string]string
	Archived     bool
}

// NewThread builds a thread from its first message.
func NewThread(id, subject string, participants []string, now time.Time) Thread {
	return Thread{
		ID:           id,
		Subject:      subject,
		Participants: NormalizeParticipants(participants),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// NormalizeParticipants returns the sorted unique form of handles.
func NormalizeParticipants(handles []string) []string {
	out := lo.Uniq(handles)
	sort.Strings(out)
	return out
}

// AddParticipants merges handles into the participant set. Union only,
// so concurrent joiners are never lost.
func (t *Thread) AddParticipants(handles ...string) {
	t.Participants = NormalizeParticipants(append(t.Participants, handles...))
}

// HasParticipant reports whether handle belongs to the thread.
func (t Thread) HasParticipant(handle string) bool {
	return slices.Contains(t.Participants, handle)
}

// SetMetadata upserts key into the thread metadata map. A nil value
// removes the key.
func (t *Thread) SetMetadata(key string, value *string) {
	if value == nil {
		delete(t.Metadata, key)
		return
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = *value
}
