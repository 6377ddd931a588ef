package keys

import (
	"strings"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(a, "vs_") {
		t.Fatalf("expected vs_ prefix, got %q", a)
	}
	if len(a) != len("vs_")+48 {
		t.Fatalf("unexpected secret length %d", len(a))
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct secrets")
	}
}

func TestHashSecret(t *testing.T) {
	h := HashSecret("vs_example")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if h != HashSecret("vs_example") {
		t.Fatalf("hash must be deterministic")
	}
	if h == HashSecret("vs_other") {
		t.Fatalf("distinct secrets must not collide")
	}
}
