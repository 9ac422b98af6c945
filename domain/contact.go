package domain

import (
	"slices"
	"time"
)

// AdminTag marks a contact as an administrator. Holders see every
// thread regardless of participation.
const AdminTag = "admin"

// Contact is an address-book entry. Version starts at 1 and increments
// by exactly 1 on every successful update; it guards read-modify-write
// cycles. Contacts are never physically deleted, only deactivated.
type Contact struct {
	Handle      string
	DisplayName string
	Description string
	Tags        []string
	IsActive    bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdatedBy   string
}

// IsAdmin reports whether the contact is active and carries the admin tag.
func (c Contact) IsAdmin() bool {
	return c.IsActive && slices.Contains(c.Tags, AdminTag)
}

// HasAnyTag reports whether the contact carries at least one of tags.
func (c Contact) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if slices.Contains(c.Tags, tag) {
			return true
		}
	}
	return false
}
