// Package export renders search results into XLSX workbooks for
// reconciliation hand-off.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/repository"
)

// Sheet is the name of the workbook sheet receipts are written to.
const Sheet = "Receipts"

// descriptionLimit caps the notes column so one verbose model reply cannot
// blow up the workbook layout.
const descriptionLimit = 140

// Service produces XLSX workbooks from repository search results.
type Service struct {
	receipts repository.ReceiptRepository
	logger   *slog.Logger
}

func NewService(receipts repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, logger: logger}
}

// Export runs a search and writes the matching receipts to a workbook, one
// row per receipt in search order (newest transaction date first). A nil
// query exports the whole index.
func (s *Service) Export(ctx context.Context, q *entity.SearchQuery) (*excelize.File, error) {
	start := time.Now()

	recs, err := s.receipts.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(Sheet); index == -1 {
		if _, err := f.NewSheet(Sheet); err != nil {
			return nil, fmt.Errorf("create sheet: %w", err)
		}
	}
	activeIndex, _ := f.GetSheetIndex(Sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Date",
		"Vendor",
		"Amount",
		"Currency",
		"Description",
		"Confidence",
		"Needs Review",
		"Source",
		"PDF Path",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(Sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(Sheet, cell, v)
		}

		needsReview := "no"
		if r.NeedsReview {
			needsReview = "yes"
		}

		write(1, r.ReceiptDate.Format("2006-01-02"))
		write(2, r.Vendor)
		write(3, r.Amount.StringFixed(2))
		write(4, r.Currency)
		write(5, truncate(r.Description, descriptionLimit))
		write(6, fmt.Sprintf("%.2f", r.Confidence))
		write(7, needsReview)
		write(8, r.SourceID)
		write(9, r.PDFPath)

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(Sheet, "A", "A", 12) // date
	_ = f.SetColWidth(Sheet, "B", "B", 28) // vendor
	_ = f.SetColWidth(Sheet, "C", "D", 11) // amount, currency
	_ = f.SetColWidth(Sheet, "E", "E", 48) // description
	_ = f.SetColWidth(Sheet, "F", "G", 12) // confidence, review flag
	_ = f.SetColWidth(Sheet, "H", "H", 36) // source id
	_ = f.SetColWidth(Sheet, "I", "I", 60) // path

	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return f, nil
}

// truncate caps s at n runes, trading the last one for an ellipsis. Rune
// counting keeps multi-byte vendors and descriptions valid in the workbook.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
