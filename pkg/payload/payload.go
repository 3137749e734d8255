package payload

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get after a payload was erased or never
// stored. The owning record envelope keeps its locator either way.
var ErrNotFound = errors.New("payload not found")

// Store is the content-addressable home of record payloads. Locators are
// opaque to every other component; erasure is independent of the record
// envelope's lifetime, which is how the append-only ledger coexists with a
// right-to-erasure requirement.
//
// No component may cache payload bytes beyond one pipeline-stage
// invocation.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Erase(ctx context.Context, locator string) error
}
