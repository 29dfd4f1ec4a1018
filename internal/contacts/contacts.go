// Package contacts defines the user's contact records as seen by the enrichment pipeline.
package contacts

import (
	"context"
	"strings"
)

// Contact is one entry in a user's address book.
type Contact struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// FullName returns "First Last", falling back to the display name.
func (c Contact) FullName() string {
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	return strings.TrimSpace(c.DisplayName)
}

// First returns the first name, or the first token of the full name.
func (c Contact) First() string {
	if c.FirstName != "" {
		return c.FirstName
	}
	if fields := strings.Fields(c.FullName()); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// Directory lists a user's contacts.
type Directory interface {
	ListContacts(ctx context.Context, userID string) ([]Contact, error)
}

// Static is an in-memory Directory.
type Static map[string][]Contact

func (s Static) ListContacts(_ context.Context, userID string) ([]Contact, error) {
	return s[userID], nil
}
