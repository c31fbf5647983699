// Package idgen provides pluggable ID generation for claw-rubber.
//
// Components that mint IDs hold Generator fields set by their constructors
// (store.New, httpapi.NewServer); those constructors do not take a
// Generator argument.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique; the module convention for all records.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// UUIDv4 returns a Generator producing random UUID v4 strings. Used where an
// externally-visible identifier must not leak creation time (search result IDs).
func UUIDv4() Generator {
	return func() string {
		return uuid.NewString()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Type-scoped identifiers use this: "req_", "fp_", "wf_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// New is the default generator used when a component is not handed one.
var New Generator = UUIDv7()
