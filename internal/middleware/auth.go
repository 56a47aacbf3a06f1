/*
File: internal/middleware/auth.go
Description: JWT authentication middleware for the connection handshake,
plus the context helpers the handlers use to read the authenticated user.
*/
// Package middleware provides HTTP middleware shared by the API and
// WebSocket servers.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

type contextKey struct{}

var userIDKey contextKey

// GetUserIDFromContext returns the authenticated user id placed by the auth
// middleware.
func GetUserIDFromContext(ctx context.Context) (chat.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(chat.UserID)
	return id, ok
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID chat.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JWTAuth validates a bearer credential once at handshake time and puts the
// authenticated user id (the token subject) in the request context. The
// token is read from the Authorization header, falling back to the "token"
// query parameter because browser WebSocket clients cannot set headers.
func JWTAuth(secret []byte, logger zerolog.Logger) func(http.Handler) http.Handler {
	authLogger := logger.With().Str("component", "JWTAuth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, secret), jwt.WithValidate(true))
			if err != nil {
				authLogger.Warn().Err(err).Msg("Rejected invalid token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			sub := tok.Subject()
			if sub == "" {
				authLogger.Warn().Msg("Rejected token without subject")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), chat.UserID(sub))))
		})
	}
}

// NoopAuth stamps every request with a fixed user id. Test use only.
func NoopAuth(userID chat.UserID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// DevAuth trusts the caller-supplied "as" query parameter. For local
// development and multi-user tests only; never wire this in production.
func DevAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.URL.Query().Get("as")
			if user == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), chat.UserID(user))))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return raw
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
