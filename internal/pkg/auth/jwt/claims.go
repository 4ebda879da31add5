package jwt

import (
	"github.com/golang-jwt/jwt"

	"notesync/internal/app/user"
	"notesync/internal/pkg/ident"
)

// Payload is the claim set issued by the identity service. The collaboration
// server only verifies it; it never issues tokens to clients.
type Payload struct {
	jwt.StandardClaims

	// ID is the collaborator's id. Numeric ids from the legacy service are accepted.
	ID ident.ID `json:"id"`

	// Username is the display name shown to other collaborators.
	Username string `json:"username"`
}

// User returns the identity carried by the token.
func (p *Payload) User() user.User {
	return user.User{ID: p.ID, Username: p.Username}
}
