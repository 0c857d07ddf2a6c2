package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubAuthenticator struct {
	identity Identity
	err      error
}

func (s stubAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return s.identity, s.err
}

func TestMiddlewarePutsIdentityInContext(t *testing.T) {
	var got Identity
	var ok bool
	handler := Middleware{
		Authenticator: stubAuthenticator{identity: Identity{Subject: "alice", Groups: []string{"users"}}},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !ok || got.Subject != "alice" {
		t.Fatalf("identity=%+v ok=%v", got, ok)
	}
}

func TestMiddlewareRejectsUnauthenticated(t *testing.T) {
	handler := Middleware{
		Authenticator: stubAuthenticator{err: ErrUnauthenticated},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestMiddlewareRejectsForbidden(t *testing.T) {
	handler := Middleware{
		Authenticator: stubAuthenticator{err: ErrForbidden},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestMiddlewareSkipsPrefixes(t *testing.T) {
	ran := false
	handler := Middleware{
		Authenticator: stubAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !ran {
		t.Fatalf("status=%d ran=%v", rec.Code, ran)
	}
}
