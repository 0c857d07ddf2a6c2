package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/_job_status", nil)
	r.Header.Set(APIKeyHeader, "worker-key")
	if err := CheckAPIKey(r, "worker-key"); err != nil {
		t.Fatalf("matching key err=%v", err)
	}

	r.Header.Set(APIKeyHeader, "wrong")
	if err := CheckAPIKey(r, "worker-key"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong key err=%v", err)
	}

	r.Header.Del(APIKeyHeader)
	if err := CheckAPIKey(r, "worker-key"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing key err=%v", err)
	}

	r.Header.Set(APIKeyHeader, "anything")
	if err := CheckAPIKey(r, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unconfigured key err=%v", err)
	}
}

func TestRequireAPIKey(t *testing.T) {
	handler := RequireAPIKey("worker-key", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/_job_status", nil)
	r.Header.Set(APIKeyHeader, "worker-key")
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/_job_status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
}
