package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenIssuer identifies tokens minted by GenerateToken.
const TokenIssuer = "notesync"

// ErrMissingIdentity is returned for a well-signed token that names no user.
var ErrMissingIdentity = errors.New("token carries no user id")

// GenerateToken signs payload with HS256. Production tokens come from the
// identity service; this is used by tests and local tooling.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken verifies tokenString with secretKey and returns its claims.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.ID.IsZero() {
		return nil, ErrMissingIdentity
	}

	return claims, nil
}
