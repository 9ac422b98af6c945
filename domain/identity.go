// Package domain contains the core concepts of the mail store.
// Types here carry no storage or transport concerns; repositories
// serialize them at their own boundary.
package domain

import "regexp"

// handlePattern: 1 to 50 chars, lowercase alphanumeric plus '_' and '-',
// first char alphanumeric.
var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,49}$`)

// AgentIdentity identifies the caller of an operation. It is supplied
// per call and never persisted by the store.
type AgentIdentity struct {
	Handle      string
	DisplayName string
}

// IsValidHandle reports whether s is a well-formed agent handle.
func IsValidHandle(s string) bool {
	return handlePattern.MatchString(s)
}

// IsValidTag reports whether s is a well-formed tag. Tags share the
// handle charset and length rules.
func IsValidTag(s string) bool {
	return handlePattern.MatchString(s)
}
