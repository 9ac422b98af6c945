package domain

import "time"

// Message is an immutable entry inside a thread. The To list is kept as
// sent: it is a distinct namespace from the thread participant set and
// is never deduplicated against it.
type Message struct {
	ID        string
	ThreadID  string
	From      string
	To        []string
	Subject   string
	Body      string
	CreatedAt time.Time
	InReplyTo string
	Tags      []string
}
