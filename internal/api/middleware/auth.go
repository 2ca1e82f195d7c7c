// Package middleware authenticates HTTP callers of the saga services.
// Customers reach their own orders and refunds; operators decide refunds,
// void payments and correct stock.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/ticketing-saga/internal/auth"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/sirupsen/logrus"
)

const accessTokenCookie = "access_token"

type contextKey string

const UserContextKey contextKey = "user"

func deny(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"status": status,
	}).Warn("[Auth] Request denied: " + message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractToken reads the token from the access_token cookie or, failing
// that, from a Bearer Authorization header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// withCaller stores claims in the request context and tags the request
// logger with the caller, so handler logs say who triggered a saga step.
func withCaller(r *http.Request, claims *auth.Claims) *http.Request {
	ctx := context.WithValue(r.Context(), UserContextKey, claims)
	ctx = logging.ToContext(ctx, logging.FromContext(ctx).WithFields(logrus.Fields{
		"user_id": claims.UserID,
		"role":    claims.Role,
	}))
	return r.WithContext(ctx)
}

// AuthMiddleware rejects requests without a valid token.
func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				deny(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				deny(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, withCaller(r, claims))
		})
	}
}

// OptionalAuthMiddleware identifies the caller when it can. POST /orders
// uses it: without a token the user id comes from the body.
func OptionalAuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := ExtractToken(r); token != "" {
				if claims, err := jwtService.ValidateToken(token); err == nil {
					r = withCaller(r, claims)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				deny(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				deny(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetUserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetUserID returns the caller's user id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	if claims, ok := GetUserFromContext(ctx); ok {
		return claims.UserID
	}
	return ""
}
