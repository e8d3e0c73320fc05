package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

// IdentityKey is the context key used to store the authenticated Identity.
const IdentityKey contextKey = "identity"

// ContextIDHeader carries the tenant (context) the user belongs to.
const ContextIDHeader = "X-Context-ID"

// Identity is the authenticated user of a request.
type Identity struct {
	Email     string
	ContextID int
}

// RequireAuth middleware checks for a valid bearer token in the Authorization header and a
// context id in the X-Context-ID header. The resulting Identity is stored in the request
// context for downstream handlers. Returns 401 Unauthorized if authentication fails.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")

		if authHeader == "" {
			logrus.Debug("Auth: No Authorization header present")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// "Bearer <token>" (RFC 7235); the scheme is case-insensitive.
		fields := strings.Fields(authHeader)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
			logrus.Debug("Auth: Invalid Authorization header format")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.Join(fields[1:], " "))
		userEmail, err := ValidateToken(token)
		if err != nil {
			logrus.WithError(err).Debug("Auth: Token validation failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		contextID, err := parseContextID(r.Header.Get(ContextIDHeader))
		if err != nil {
			logrus.WithError(err).Debug("Auth: Invalid context id")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, Identity{Email: userEmail, ContextID: contextID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseContextID parses the context header. A missing header means the default context 1.
func parseContextID(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 1, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("context id %q is not a number", value)
	}
	if id < 1 {
		return 0, fmt.Errorf("context id must be positive, got %d", id)
	}
	return id, nil
}

// GetIdentityFromContext returns the authenticated identity from the context.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}

// ValidateToken validates the token and returns the user's email.
// This is a stub for now.
// In test mode (VMAIL_TEST_MODE=true), if the token starts with "email:",
// it extracts the email from the token (e.g., "email:user@example.com" -> "user@example.com").
// Otherwise, it returns "test@example.com" as the default test user.
func ValidateToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(token) == "email:" {
		return "", fmt.Errorf("token is empty")
	}

	if os.Getenv("VMAIL_TEST_MODE") == "true" {
		if email, ok := strings.CutPrefix(token, "email:"); ok && email != "" {
			return email, nil
		}
	}

	// TODO: Validate the token against the identity provider once one is configured.

	return "test@example.com", nil
}
