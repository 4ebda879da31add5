package jwt

import (
	"context"
	"net/http"
	"strings"

	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/resp"
)

type contextKey string

const (
	// ContextAuthPayloadKey stores the verified *Payload in the request context.
	ContextAuthPayloadKey contextKey = "auth_payload"

	// TokenQueryParam carries the token for WebSocket upgrades, where browsers
	// cannot set an Authorization header.
	TokenQueryParam = "token"
)

// tokenFromRequest reads "Authorization: Bearer <token>" and falls back to the
// token query parameter.
func tokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	return r.URL.Query().Get(TokenQueryParam)
}

// RequireIdentity rejects requests without a valid token with ErrUnauthorized and
// stores the verified Payload in the context otherwise.
func RequireIdentity(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Rejected request with invalid identity token", "error", err.Error(), "path", r.URL.Path)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPayloadFromContext returns the verified Payload, or nil outside RequireIdentity.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	if !ok {
		return nil
	}

	return payload
}
