package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/zarumart/api/internal/platform/httpx"
)

// Session captures the per-browser shopping context extracted from the
// Authorization header. The bearer token is forwarded to the commerce
// platform untouched; the session ID derived from it keys the in-memory
// cart and checkout state.
type Session struct {
	ID    string
	Token string
}

type sessionContextKey struct{}

// WithSession stores the session within the context for downstream handlers.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext retrieves the session previously stored in context.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// Middleware extracts the bearer token from incoming requests and attaches
// the derived session to the request context. Requests without a token are
// rejected before reaching any handler.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "missing bearer token", http.StatusUnauthorized))
				return
			}

			s := &Session{
				ID:    DeriveID(token),
				Token: token,
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// DeriveID produces a stable opaque session identifier from a bearer token.
// The raw token never appears in logs or map keys.
func DeriveID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
