package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Errorf("version: got %d, want 7", u.Version())
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", UUIDv7())()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if _, err := Parse(id); err != nil {
		t.Errorf("prefixed id does not parse: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "not-a-uuid", "run_xyz"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestNew_UsesDefault(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	Default = func() string { return "fixed" }
	if got := New(); got != "fixed" {
		t.Errorf("New: got %q", got)
	}
}
