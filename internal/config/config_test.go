package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("NBRUNNER_TEST_STR", "value")
	if got := getEnv("NBRUNNER_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnv = %q, want %q", got, "value")
	}
	if got := getEnv("NBRUNNER_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("getEnv = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("NBRUNNER_TEST_INT", "12")
	if got := getEnvInt("NBRUNNER_TEST_INT", 4); got != 12 {
		t.Fatalf("getEnvInt = %d, want 12", got)
	}
	t.Setenv("NBRUNNER_TEST_INT", "notanumber")
	if got := getEnvInt("NBRUNNER_TEST_INT", 4); got != 4 {
		t.Fatalf("getEnvInt = %d, want default 4", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("NBRUNNER_TEST_DUR", "45s")
	if got := getEnvDuration("NBRUNNER_TEST_DUR", 30*time.Second); got != 45*time.Second {
		t.Fatalf("getEnvDuration = %s, want 45s", got)
	}
	t.Setenv("NBRUNNER_TEST_DUR", "soon")
	if got := getEnvDuration("NBRUNNER_TEST_DUR", 30*time.Second); got != 30*time.Second {
		t.Fatalf("getEnvDuration = %s, want default 30s", got)
	}
}
