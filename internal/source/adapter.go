// Package source fetches raw receipt messages from their origin, currently
// an IMAP mailbox or a directory of .eml files.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/expenseworks/receipts-index/internal/entity"
)

// Source type values recorded on persisted receipts.
const (
	TypeEmail   = "email"
	TypeMaildir = "maildir"
)

// ErrDone signals that a cursor has yielded its last message.
var ErrDone = errors.New("source: no more messages")

// ParseError marks a failure local to a single message. The pipeline skips
// the item and keeps iterating; any other cursor error aborts the run.
type ParseError struct {
	SourceID string // best-effort identifier (message id, uid or filename)
	Cause    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message %s: %v", e.SourceID, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Cursor iterates messages one at a time so large mailboxes are never held
// in memory at once.
type Cursor interface {
	// Next returns the next unprocessed message, ErrDone when exhausted, a
	// *ParseError for a malformed item, or the transport error otherwise.
	Next(ctx context.Context) (*entity.RawMessage, error)
	// Skipped reports how many already-indexed messages the cursor has
	// dropped so far via the processed-set filter. The pipeline folds the
	// count into the run summary so re-runs account for every source item.
	Skipped() int
	Close() error
}

// Adapter lists and fetches messages that are not in the processed set.
// The processed filter is an optimization only; the repository's uniqueness
// constraint remains the authority on duplicates.
type Adapter interface {
	Type() string
	FetchUnprocessed(ctx context.Context, processed map[string]struct{}) (Cursor, error)
}
