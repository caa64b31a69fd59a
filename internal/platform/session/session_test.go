package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareAttachesSession(t *testing.T) {
	var got *Session
	handler := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("expected session in context")
		}
		got = s
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got.Token != "tok-123" {
		t.Fatalf("token = %q, want %q", got.Token, "tok-123")
	}
	if got.ID == "" || got.ID == got.Token {
		t.Fatalf("session id %q should be derived, not the raw token", got.ID)
	}
	if got.ID != DeriveID("tok-123") {
		t.Fatalf("session id should be stable for the same token")
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	handler := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	for _, header := range []string{"", "Token abc", "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want %d", header, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestExtractBearerCaseInsensitive(t *testing.T) {
	if got := extractBearer("bearer abc"); got != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
	if got := extractBearer("BEARER xyz"); got != "xyz" {
		t.Fatalf("got %q, want %q", got, "xyz")
	}
}
