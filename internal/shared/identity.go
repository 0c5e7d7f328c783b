package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Roles recognised from the upstream gateway.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Header names populated by the authenticating gateway in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Identity describes the authenticated caller. Authentication itself happens
// upstream; this service trusts the forwarded headers.
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
// The zero Identity is returned for unauthenticated requests.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}

// IdentityMiddleware parses gateway identity headers into the request context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id Identity
		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				id.UserID = parsed
			}
		}
		id.Role = strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// RequireRole ensures the caller holds one of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id := IdentityFromContext(r.Context())
			if id.UserID == 0 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
