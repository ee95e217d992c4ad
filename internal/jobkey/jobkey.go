// Package jobkey mints and validates correlation keys.
//
// A correlation key namespaces the payload object, the result object, the
// worker's scratch space and the job state entry of a single job. Keys are
// random (version 4) UUIDs; uniqueness is the only concurrency control the
// pipeline relies on.
package jobkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key is an opaque correlation key.
type Key string

// New mints a fresh random key.
func New() Key {
	return Key(uuid.NewString())
}

// Parse validates s as a correlation key and returns its canonical form.
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("correlation key is empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid correlation key %q: %w", s, err)
	}
	return Key(id.String()), nil
}

func (k Key) String() string { return string(k) }

// PayloadObject is the object store name holding the submitted archive.
func (k Key) PayloadObject() string { return string(k) }

// ResultObject is the object store name holding the build result.
func (k Key) ResultObject(suffix string) string {
	return string(k) + "." + strings.TrimPrefix(suffix, ".")
}

// FailureObject is the object store name holding a failure report.
func (k Key) FailureObject(suffix string) string {
	return k.ResultObject(suffix) + ".failed"
}
