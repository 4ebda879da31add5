/*
Package user contains the identity of a collaborator as the rest of the server
sees it: the verified id and the display name.
*/
package user

import "notesync/internal/pkg/ident"

// User represents the identity attached to a connection or carried in an event.
type User struct {
	// ID is the collaborator's id as issued by the identity service.
	ID ident.ID `json:"id"`

	// Username is the display name shown next to presence and cursors.
	Username string `json:"username"`
}

// IsZero reports whether the user carries no id.
func (u User) IsZero() bool {
	return u.ID.IsZero()
}
