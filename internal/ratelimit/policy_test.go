package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePolicyOverlaysDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte(`
classes:
  aml:
    limit: 50
  signin:
    window: 5m
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if got := p[ClassAML]; got.Limit != 50 || got.Window != 24*time.Hour {
		t.Fatalf("aml rule = %+v", got)
	}
	if got := p[ClassSignIn]; got.Limit != 5 || got.Window != 5*time.Minute {
		t.Fatalf("signin rule = %+v", got)
	}
	if got := p[ClassAPI]; got != DefaultPolicy()[ClassAPI] {
		t.Fatalf("api rule changed: %+v", got)
	}
}

func TestParsePolicyRejects(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{
		"classes:\n  bogus: {limit: 1}\n",
		"classes:\n  aml: {window: soon}\n",
		"classes:\n  aml: {limit: -1}\n",
		"classes: [\n",
	} {
		if _, err := ParsePolicy([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil || len(p) != len(DefaultPolicy()) {
		t.Fatalf("LoadPolicy empty path: %v %v", p, err)
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("classes:\n  leads: {limit: 7, window: 30m}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if got := p[ClassLeads]; got.Limit != 7 || got.Window != 30*time.Minute {
		t.Fatalf("leads rule = %+v", got)
	}
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
