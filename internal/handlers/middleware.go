package handlers

import (
	"net/http"
	"strings"

	"github.com/prodapi/userserver/internal/audit"
	"github.com/prodapi/userserver/internal/auth"
)

// tokenCookieName is the same-origin cookie checked before the
// Authorization header.
const tokenCookieName = "token"

// Authenticate enforces token authentication and attaches the resulting
// principal to the request context. The token is taken from the "token"
// cookie first, then from an Authorization: Bearer header.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required", "No access token provided")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication failed", "Invalid or expired token")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication failed", "Invalid or expired token")
				return
			}

			principal := auth.Principal{
				ID:    userID,
				Email: claims.Email,
				Role:  claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole guards a route with a declared set of permitted roles.
// The allowed set is fixed per route at registration time.
func RequireRole(recorder *audit.Recorder, allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required", "User not authenticated")
				return
			}

			if !roleAllowed(principal.Role, allowed) {
				recorder.Denied(r.Context(), audit.Event{
					Action:      r.Method + " " + r.URL.Path,
					Reason:      "insufficient role",
					PrincipalID: principal.ID,
					Email:       principal.Email,
					Role:        principal.Role,
				})
				writeError(w, http.StatusForbidden, "Access denied", "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(role, candidate) {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value, true
		}
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
