package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newDevService(t *testing.T) *DevService {
	t.Helper()
	svc, err := NewDevService(Config{
		Mode:          ModeDev,
		RequiredGroup: "users",
		DevSigningKey: "test-signing-key",
	})
	if err != nil {
		t.Fatalf("NewDevService: %v", err)
	}
	return svc
}

func TestDevLoginRoundTrip(t *testing.T) {
	svc := newDevService(t)
	if err := svc.Register("alice", "s3cret", "alice@example.org"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login("alice", "s3cret", time.Minute)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	identity, err := svc.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "alice" || identity.Email != "alice@example.org" {
		t.Fatalf("identity=%+v", identity)
	}
	if !identity.InGroup("users") {
		t.Fatalf("missing users group: %+v", identity)
	}
}

func TestDevLoginWrongPassword(t *testing.T) {
	svc := newDevService(t)
	if err := svc.Register("alice", "s3cret", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login("alice", "wrong", time.Minute); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("login err=%v", err)
	}
}

func TestDevRegisterDuplicate(t *testing.T) {
	svc := newDevService(t)
	if err := svc.Register("alice", "a", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Register("alice", "b", ""); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func TestDevAuthenticateRejectsForeignToken(t *testing.T) {
	issuer := newDevService(t)
	if err := issuer.Register("alice", "s3cret", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := issuer.Login("alice", "s3cret", time.Minute)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	other, err := NewDevService(Config{Mode: ModeDev, RequiredGroup: "users", DevSigningKey: "different-key"})
	if err != nil {
		t.Fatalf("NewDevService: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if _, err := other.Authenticate(context.Background(), r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("foreign token err=%v", err)
	}
}
