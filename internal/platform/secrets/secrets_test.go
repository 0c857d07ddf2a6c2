package secrets

import "testing"

func TestUnwrapPlainValue(t *testing.T) {
	if got := Unwrap("plain-password"); got != "plain-password" {
		t.Fatalf("Unwrap()=%q", got)
	}
}

func TestUnwrapSecretsManagerDocument(t *testing.T) {
	if got := Unwrap(`{"password": "s3cret"}`); got != "s3cret" {
		t.Fatalf("Unwrap()=%q, want s3cret", got)
	}
}

func TestUnwrapJSONWithoutPasswordField(t *testing.T) {
	raw := `{"user": "alice"}`
	if got := Unwrap(raw); got != raw {
		t.Fatalf("Unwrap()=%q, want original", got)
	}
}

func TestUnwrapEmpty(t *testing.T) {
	if got := Unwrap(""); got != "" {
		t.Fatalf("Unwrap()=%q, want empty", got)
	}
}
