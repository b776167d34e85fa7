package fanout

import (
	"context"
	"errors"
)

// NewOnly is the cursor a consumer starts from: nothing appended before the
// first read is returned.
const NewOnly = "$"

const emptyTail = "0-0"

// Entry field names written by the business tier.
const (
	FieldUser    = "user"
	FieldPayload = "payload"
)

var ErrClosed = errors.New("fanout: log closed")

// Entry is one record of the append-only log. Payload is relayed to clients
// byte for byte.
type Entry struct {
	ID      string
	User    string
	Payload []byte
}

// Log is the shared append-only log every gateway process tails.
type Log interface {
	// Tail returns the id of the newest entry, "0-0" on an empty log. A
	// consumer resolves NewOnly through it once, so later reads always
	// resume from a concrete position.
	Tail(ctx context.Context) (string, error)
	// Read blocks until at least one entry after cursor exists, or the
	// driver's own block window lapses (empty batch, nil error). Entries come
	// back in append order.
	Read(ctx context.Context, cursor string) ([]Entry, error)
	// Append is the writer side, used by the business tier and tooling.
	Append(ctx context.Context, user string, payload []byte) (string, error)
	Close() error
}
