// Package ids mints ULID identifiers for users, refresh token records and
// audit entries. ULIDs sort by creation time, so the mostly-recent lookups
// this service performs stay on warm index pages.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs from a cryptographic entropy source.
// Safe for concurrent use; ids minted within the same millisecond still come
// out strictly increasing.
type Generator struct {
	entropy *ulid.LockedMonotonicReader
}

func NewGenerator() *Generator {
	return &Generator{
		entropy: &ulid.LockedMonotonicReader{
			MonotonicReader: ulid.Monotonic(rand.Reader, 0),
		},
	}
}

func (g *Generator) Next() string {
	return ulid.MustNew(ulid.Now(), g.entropy).String()
}

var defaultGenerator = NewGenerator()

// New mints an identifier from the shared process-wide generator.
func New() string { return defaultGenerator.Next() }

// Valid reports whether s parses as a ULID. Used to sanity-check identifiers
// arriving from outside the process.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the creation time embedded in an identifier.
func Timestamp(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
