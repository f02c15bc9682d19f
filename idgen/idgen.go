// Package idgen generates identifiers for sweeps and checks.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so check history orders naturally by id.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Sweep and Check are the generators used for history rows.
var (
	Sweep = Prefixed("swp_", Default)
	Check = Prefixed("chk_", Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
