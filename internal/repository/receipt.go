package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
)

// ErrDuplicateSource is returned by Insert when a receipt with the same
// source_id is already indexed.
var ErrDuplicateSource = errors.New("source already indexed")

type ReceiptRepository interface {
	Insert(ctx context.Context, rec *entity.Receipt) (*entity.Receipt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error)
	Search(ctx context.Context, q *entity.SearchQuery) ([]*entity.Receipt, error)
	SourceIDs(ctx context.Context) (map[string]struct{}, error)
}

type receiptRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	return &receiptRepository{
		db:     db,
		logger: logger,
	}
}

// receiptRow is the scan target shared by both engines. Amount travels as a
// string so NUMERIC values never pass through binary floating point on the
// way in.
type receiptRow struct {
	ID           string    `db:"id"`
	SourceID     string    `db:"source_id"`
	SourceType   string    `db:"source_type"`
	Vendor       string    `db:"vendor"`
	Amount       string    `db:"amount"`
	Currency     string    `db:"currency"`
	ReceiptDate  time.Time `db:"receipt_date"`
	Description  string    `db:"description"`
	Confidence   float64   `db:"confidence"`
	NeedsReview  bool      `db:"needs_review"`
	PDFPath      string    `db:"pdf_path"`
	EmailSubject string    `db:"email_subject"`
	EmailSender  string    `db:"email_sender"`
	EmailDate    time.Time `db:"email_date"`
	Seq          int64     `db:"seq"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

const receiptColumns = `id, source_id, source_type, vendor, amount, currency, receipt_date,
	description, confidence, needs_review, pdf_path, email_subject, email_sender, email_date,
	seq, created_at, updated_at`

// Insert persists a new receipt. The source_id uniqueness constraint is the
// idempotency guarantee: a second insert for the same source reports
// ErrDuplicateSource instead of creating a row.
func (r *receiptRepository) Insert(ctx context.Context, rec *entity.Receipt) (*entity.Receipt, error) {
	now := time.Now().UTC()
	out := *rec
	out.ID = uuid.New()
	out.ReceiptDate = midnightUTC(rec.ReceiptDate)
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Currency == "" {
		out.Currency = "USD"
	}

	query := r.db.Rebind(`INSERT INTO receipts (` + receiptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		out.ID.String(), out.SourceID, out.SourceType, out.Vendor,
		out.Amount.StringFixed(2), out.Currency, out.ReceiptDate,
		out.Description, out.Confidence, out.NeedsReview, out.PDFPath,
		out.EmailSubject, out.EmailSender, out.EmailDate.UTC(),
		now.UnixNano(), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, rec.SourceID)
		}
		r.logger.Error("failed to insert receipt", "source_id", rec.SourceID, "error", err)
		return nil, common.WrapError(err, "insert receipt")
	}

	r.logger.Debug("repo.receipt.insert", "id", out.ID, "source_id", out.SourceID, "vendor", out.Vendor)
	return &out, nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error) {
	var row receiptRow
	query := r.db.Rebind(`SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("receipt %s", id), common.ErrNotFound)
		}
		return nil, common.WrapError(err, "get receipt")
	}
	return row.toEntity()
}

// Search returns receipts matching the query, newest transaction date first.
// Receipts sharing a date come back in insertion order.
func (r *receiptRepository) Search(ctx context.Context, q *entity.SearchQuery) ([]*entity.Receipt, error) {
	where, args := buildSearchWhere(q)
	query := r.db.Rebind(`SELECT ` + receiptColumns + ` FROM receipts` + where +
		` ORDER BY receipt_date DESC, seq ASC`)

	var rows []receiptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.Error("failed to search receipts", "error", err)
		return nil, common.WrapError(err, "search receipts")
	}

	out := make([]*entity.Receipt, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *receiptRepository) SourceIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT source_id FROM receipts`); err != nil {
		return nil, common.WrapError(err, "list source ids")
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// buildSearchWhere renders the optional filters as an AND-combined WHERE
// clause with ?-style placeholders ready for Rebind.
func buildSearchWhere(q *entity.SearchQuery) (string, []any) {
	if q == nil {
		return "", nil
	}

	var conds []string
	var args []any
	if q.Vendor != "" {
		conds = append(conds, `LOWER(vendor) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(q.Vendor))+"%")
	}
	if q.AmountMin != nil {
		conds = append(conds, "amount >= ?")
		args = append(args, q.AmountMin.StringFixed(2))
	}
	if q.AmountMax != nil {
		conds = append(conds, "amount <= ?")
		args = append(args, q.AmountMax.StringFixed(2))
	}
	if q.DateFrom != nil {
		conds = append(conds, "receipt_date >= ?")
		args = append(args, midnightUTC(*q.DateFrom))
	}
	if q.DateTo != nil {
		conds = append(conds, "receipt_date <= ?")
		args = append(args, midnightUTC(*q.DateTo))
	}
	if q.NeedsReview != nil {
		conds = append(conds, "needs_review = ?")
		args = append(args, *q.NeedsReview)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func (row *receiptRow) toEntity() (*entity.Receipt, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, common.WrapError(err, "parse receipt id")
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, common.WrapError(err, "parse receipt amount")
	}
	return &entity.Receipt{
		ID:           id,
		SourceID:     row.SourceID,
		SourceType:   row.SourceType,
		Vendor:       row.Vendor,
		Amount:       amount,
		Currency:     row.Currency,
		ReceiptDate:  midnightUTC(row.ReceiptDate),
		Description:  row.Description,
		Confidence:   row.Confidence,
		NeedsReview:  row.NeedsReview,
		PDFPath:      row.PDFPath,
		EmailSubject: row.EmailSubject,
		EmailSender:  row.EmailSender,
		EmailDate:    row.EmailDate.UTC(),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

// midnightUTC truncates a timestamp to its UTC calendar day so date
// comparisons behave identically on both engines.
func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
