package auth

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateKeyFormat(t *testing.T) {
	now := time.UnixMilli(1735689600000)
	key, prefix, err := GenerateKey(now)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(key, prefix+"_") {
		t.Fatalf("key %q does not start with prefix %q", key, prefix)
	}
	if len(key) < keyMinLength {
		t.Fatalf("key too short: %d", len(key))
	}
	parsed, ok := ParseKey(key)
	if !ok || parsed != prefix {
		t.Fatalf("ParseKey = %q, %v", parsed, ok)
	}
}

func TestParseKeyRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"pk_abc_" + strings.Repeat("a", 64),
		"sk_short",
		"sk_" + strings.Repeat("a", 64),
		"sk__" + strings.Repeat("a", 64),
	} {
		if _, ok := ParseKey(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestHashKeyUsesPepper(t *testing.T) {
	if HashKey("", "k") == HashKey("pepper", "k") {
		t.Fatal("pepper must change the hash")
	}
	if len(HashKey("", "k")) != 64 {
		t.Fatal("expected hex sha256")
	}
}
