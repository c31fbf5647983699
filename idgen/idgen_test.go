package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Unique(t *testing.T) {
	// WHAT: Consecutive IDs are distinct.
	// WHY: Record IDs double as primary keys; a collision corrupts provenance.
	gen := UUIDv7()
	seen := make(map[string]bool)
	for range 100 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestPrefixed(t *testing.T) {
	// WHAT: Prefixed prepends the prefix to every generated ID.
	gen := Prefixed("evt_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "evt_") {
		t.Errorf("expected evt_ prefix, got %s", id)
	}
	if len(id) <= len("evt_") {
		t.Errorf("prefixed id has no body: %s", id)
	}
}

func TestUUIDv4_Format(t *testing.T) {
	// WHAT: v4 IDs are 36-char canonical UUIDs.
	id := UUIDv4()()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Errorf("not a canonical uuid: %s", id)
	}
}
