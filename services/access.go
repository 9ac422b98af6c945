package services

import (
	"agent-mail/domain"
	mailerrors "agent-mail/errors"
	"agent-mail/repositories"
)

// Access answers visibility questions against current registry state.
// Pure reads, no failure modes beyond the underlying storage.
type Access struct {
	contacts repositories.IContactRepository
}

func NewAccess(contacts repositories.IContactRepository) *Access {
	return &Access{contacts: contacts}
}

// IsAdmin reports whether an active contact for handle carries the
// admin tag. The contact record is re-read on every call: admin status
// is a security decision and must reflect the latest tag change
// immediately, so it is never cached on a session.
func (a *Access) IsAdmin(handle string) (bool, error) {
	contact, err := a.contacts.Get(handle)
	if err != nil {
		if mailerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return contact.IsAdmin(), nil
}

// CanViewThread reports whether handle may see thread: participants
// always, admins regardless of participation.
func (a *Access) CanViewThread(handle string, thread domain.Thread) (bool, error) {
	if thread.HasParticipant(handle) {
		return true, nil
	}
	return a.IsAdmin(handle)
}
