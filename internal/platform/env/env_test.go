package env

import (
	"testing"
	"time"
)

func TestStringFallsBackToDefault(t *testing.T) {
	if got := String("JOBGATE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("JOBGATE_TEST_SET", "value")
	if got := String("JOBGATE_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestStringsSplitsAndTrims(t *testing.T) {
	t.Setenv("JOBGATE_TEST_LIST", "a, b ,,c")
	got := Strings("JOBGATE_TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Strings()=%v, want [a b c]", got)
	}
}

func TestIntRejectsGarbage(t *testing.T) {
	t.Setenv("JOBGATE_TEST_INT", "not-a-number")
	if _, err := Int("JOBGATE_TEST_INT", 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDurationParses(t *testing.T) {
	t.Setenv("JOBGATE_TEST_DUR", "90s")
	d, err := Duration("JOBGATE_TEST_DUR", time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("Duration()=%v, want 90s", d)
	}
}

func TestBoolDefault(t *testing.T) {
	b, err := Bool("JOBGATE_TEST_UNSET_BOOL", true)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v, want true", b, err)
	}
}
