package repository

import "context"

// sqliteSchema mirrors db/schema.sql for the embedded engine. PostgreSQL
// deployments apply db/schema.sql out of band.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
    id            TEXT PRIMARY KEY,
    source_id     TEXT NOT NULL UNIQUE,
    source_type   TEXT NOT NULL,
    vendor        TEXT NOT NULL,
    amount        NUMERIC NOT NULL CHECK (amount > 0),
    currency      TEXT NOT NULL DEFAULT 'USD',
    receipt_date  DATE NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    needs_review  BOOLEAN NOT NULL DEFAULT 0,
    pdf_path      TEXT NOT NULL,
    email_subject TEXT NOT NULL DEFAULT '',
    email_sender  TEXT NOT NULL DEFAULT '',
    email_date    TIMESTAMP NOT NULL,
    seq           INTEGER NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS receipts_vendor_idx ON receipts (vendor);
CREATE INDEX IF NOT EXISTS receipts_receipt_date_idx ON receipts (receipt_date);
`

// EnsureSchema creates the receipts table on the embedded engine if it does
// not exist yet. It is a no-op on PostgreSQL.
func EnsureSchema(ctx context.Context, db *DB) error {
	if db.DriverName() != "sqlite" {
		return nil
	}
	_, err := db.ExecContext(ctx, sqliteSchema)
	return err
}
