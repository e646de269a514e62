// Package extract turns a flattened receipt email into normalized receipt
// fields. The model reply is validated against a JSON Schema, sanitized
// leniently when strict validation fails, and parsed into entity types.
package extract

import (
	"context"
	"errors"

	"github.com/expenseworks/receipts-index/internal/entity"
)

// ErrInvalidReply marks a model reply that failed schema validation or field
// normalization. Callers treat it as permanent for the item, not transient.
var ErrInvalidReply = errors.New("invalid model reply")

// FieldExtractor is the interface the ingest pipeline depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, emailCtx string) (fields *entity.ReceiptFields, rawJSON []byte, err error)
}
