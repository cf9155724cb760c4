// Package ident mints the opaque identifiers used for channels and users.
// Uniqueness is only needed within the process lifetime; the ids are not
// sortable and carry no ordering.
package ident

import "github.com/google/uuid"

// New returns a fresh random identifier.
func New() uuid.UUID {
	return uuid.New()
}

// Parse reads an identifier back from its string form.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
