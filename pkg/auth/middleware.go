package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/paperledger/paperledger/pkg/api"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/readiness",
	"/api/auth/login",
}

// streamPrefixes are SSE endpoints. Browser EventSource clients cannot
// set an Authorization header, so their handlers validate the token
// themselves from the query string or cookie.
var streamPrefixes = []string{
	"/api/review/sync-finish/stream",
	"/api/upload/process/stream/",
}

// isPublicPath checks if the path should be accessible without auth.
func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, p := range streamPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// PrincipalFromRequest authenticates a request whose token may arrive
// via the Authorization header, a token query parameter, or the
// access_token cookie. Used by SSE handlers behind streamPrefixes.
func PrincipalFromRequest(issuer *Issuer, r *http.Request) (*BasePrincipal, error) {
	if issuer == nil {
		return nil, fmt.Errorf("auth: not configured")
	}

	tokenStr := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokenStr = strings.TrimPrefix(h, "Bearer ")
	}
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		if c, err := r.Cookie("access_token"); err == nil {
			tokenStr = c.Value
		}
	}
	if tokenStr == "" {
		return nil, fmt.Errorf("auth: no token supplied")
	}

	claims, err := issuer.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("auth: token missing subject or tenant binding")
	}
	return &BasePrincipal{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Bucket:   claims.Bucket,
		SheetID:  claims.SheetID,
		Roles:    claims.Roles,
	}, nil
}

// NewMiddleware creates JWT auth middleware.
// If issuer is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			tokenStr := parts[1]

			if issuer == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := issuer.Validate(tokenStr)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}
			if claims.TenantID == "" {
				api.WriteUnauthorized(w, "Token tenant binding is required")
				return
			}

			principal := &BasePrincipal{
				ID:       claims.Subject,
				TenantID: claims.TenantID,
				Bucket:   claims.Bucket,
				SheetID:  claims.SheetID,
				Roles:    claims.Roles,
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
