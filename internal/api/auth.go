package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"filecrate/internal/auth"
	"filecrate/internal/models"
)

// TokenHeader carries the opaque session token on authenticated requests.
const TokenHeader = "X-Token"

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// errUnauthenticated is the single message surfaced for every authentication
// failure. Missing headers, malformed input and wrong credentials are
// deliberately indistinguishable.
var errUnauthenticated = errors.New("authentication required")

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken reads the session token header from the request.
func ExtractToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TokenHeader))
}

// RequireBasic gates next behind Basic credential authentication. The
// resolved user is attached to the request context.
func (h *Handler) RequireBasic(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := parseBasicHeader(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		user, err := h.Verifier.Verify(r.Context(), email, password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, errUnauthenticated)
				return
			}
			writeError(w, http.StatusInternalServerError, errors.New("authentication unavailable"))
			return
		}
		next(w, r.WithContext(ContextWithUser(r.Context(), user)))
	}
}

// RequireToken gates next behind bearer-token authentication via the
// X-Token header. The resolved user is attached to the request context.
func (h *Handler) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		userID, ok, err := h.Sessions.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("authentication unavailable"))
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		user, exists, err := h.Store.GetUser(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("authentication unavailable"))
			return
		}
		if !exists {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		next(w, r.WithContext(ContextWithUser(r.Context(), user)))
	}
}

// parseBasicHeader decodes an Authorization header of the form
// "Basic base64(email:password)". The password may itself contain a colon;
// only the first one separates the parts.
func parseBasicHeader(header string) (email, password string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Basic" {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), true
}
