// Package pipeline coordinates an ingest run: fetch messages from a source,
// extract receipt fields, render the PDF, store it, and index the row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/extract"
	"github.com/expenseworks/receipts-index/internal/render"
	"github.com/expenseworks/receipts-index/internal/repository"
	"github.com/expenseworks/receipts-index/internal/retry"
	"github.com/expenseworks/receipts-index/internal/source"
	"github.com/expenseworks/receipts-index/internal/store"
)

// Config holds thresholds and behavior flags for an ingest run.
type Config struct {
	// ReviewThreshold flags receipts below this confidence for manual
	// review. Zero is a valid value and disables flagging; the 0.60
	// default lives in common.LoadConfig, applied only when the
	// REVIEW_THRESHOLD variable is unset.
	ReviewThreshold  float64
	SourceAttempts   int           // fetch connection attempts; default 3
	SourceRetryDelay time.Duration // initial fetch backoff; default 2s
}

type Pipeline struct {
	Logger    *slog.Logger
	Cfg       Config
	Source    source.Adapter
	Extractor extract.FieldExtractor
	Renderer  *render.Builder
	Files     store.FileStore
	Receipts  repository.ReceiptRepository
}

func New(
	logger *slog.Logger,
	cfg Config,
	src source.Adapter,
	extractor extract.FieldExtractor,
	renderer *render.Builder,
	files store.FileStore,
	receipts repository.ReceiptRepository,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SourceAttempts <= 0 {
		cfg.SourceAttempts = 3
	}
	if cfg.SourceRetryDelay <= 0 {
		cfg.SourceRetryDelay = 2 * time.Second
	}
	return &Pipeline{
		Logger:    logger,
		Cfg:       cfg,
		Source:    src,
		Extractor: extractor,
		Renderer:  renderer,
		Files:     files,
		Receipts:  receipts,
	}
}

// Run processes every unindexed message the source yields. Per-item failures
// are recorded and the run continues; only source transport errors or
// context cancellation abort it, returning the partial summary.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.New().String()
	ctx = common.WithRunID(ctx, runID)
	start := time.Now()

	summary := &Summary{Failed: make(map[string]int)}

	processed, err := p.Receipts.SourceIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("list indexed sources: %w", err)
	}

	p.Logger.Info("ingest.run.start",
		"run_id", runID, "source", p.Source.Type(), "indexed", len(processed))

	var cursor source.Cursor
	fetchErr := retry.Do(ctx, retry.Config{
		MaxAttempts:  p.Cfg.SourceAttempts,
		InitialDelay: p.Cfg.SourceRetryDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			p.Logger.Warn("ingest.fetch.retry",
				"run_id", runID, "attempt", attempt,
				"delay_ms", delay.Milliseconds(), "error", err)
		},
	}, func() error {
		c, err := p.Source.FetchUnprocessed(ctx, processed)
		if err != nil {
			return err
		}
		cursor = c
		return nil
	})
	if fetchErr != nil {
		return summary, fmt.Errorf("fetch unprocessed: %w", fetchErr)
	}
	defer func() {
		if err := cursor.Close(); err != nil {
			p.Logger.Debug("ingest.cursor.close_error", "run_id", runID, "error", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		msg, err := cursor.Next(ctx)
		if errors.Is(err, source.ErrDone) {
			break
		}
		var perr *source.ParseError
		if errors.As(err, &perr) {
			p.Logger.Warn("ingest.item.unparseable",
				"run_id", runID, "source_id", perr.SourceID, "error", perr)
			summary.record(Outcome{
				SourceID: perr.SourceID,
				Status:   StatusFailed,
				Stage:    StageFetch,
				Reason:   perr.Error(),
			})
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("next message: %w", err)
		}

		summary.record(p.processItem(ctx, msg))
	}

	// Items the adapter dropped via the processed-set filter never reach
	// this loop; count them so a re-run reports one Skipped per item the
	// previous run indexed.
	if n := cursor.Skipped(); n > 0 {
		summary.Skipped += n
		p.Logger.Info("ingest.run.already_indexed", "run_id", runID, "count", n)
	}

	p.Logger.Info("ingest.run.ok",
		"run_id", runID,
		"done", summary.Done,
		"skipped", summary.Skipped,
		"failed", summary.FailedTotal(),
		"needs_review", summary.NeedsReview,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

// processItem walks one message through extract, render, store, and persist.
func (p *Pipeline) processItem(ctx context.Context, msg *entity.RawMessage) Outcome {
	fields, _, err := p.Extractor.ExtractFields(ctx, extract.BuildEmailContext(msg))
	if err != nil {
		p.Logger.Error("ingest.item.extract_failed",
			"source_id", msg.SourceID, "error", err)
		return Outcome{SourceID: msg.SourceID, Status: StatusFailed, Stage: StageExtract, Reason: err.Error()}
	}

	needsReview := fields.Confidence < p.Cfg.ReviewThreshold

	pdf, method, err := p.Renderer.Render(ctx, msg)
	if err != nil {
		p.Logger.Error("ingest.item.render_failed",
			"source_id", msg.SourceID, "error", err)
		return Outcome{SourceID: msg.SourceID, Status: StatusFailed, Stage: StageRender, Reason: err.Error()}
	}

	relPath, err := p.Files.Save(fields.TxDate, fields.Vendor, fields.Amount, pdf)
	if err != nil {
		p.Logger.Error("ingest.item.store_failed",
			"source_id", msg.SourceID, "error", err)
		return Outcome{SourceID: msg.SourceID, Status: StatusFailed, Stage: StageStore, Reason: err.Error()}
	}

	rec, err := p.Receipts.Insert(ctx, &entity.Receipt{
		SourceID:     msg.SourceID,
		SourceType:   p.Source.Type(),
		Vendor:       fields.Vendor,
		Amount:       fields.Amount,
		Currency:     fields.Currency,
		ReceiptDate:  fields.TxDate,
		Description:  fields.Description,
		Confidence:   fields.Confidence,
		NeedsReview:  needsReview,
		PDFPath:      relPath,
		EmailSubject: msg.Subject,
		EmailSender:  msg.Sender,
		EmailDate:    msg.Timestamp,
	})
	if errors.Is(err, repository.ErrDuplicateSource) {
		// The file saved above stays in place; the existing row keeps
		// pointing at the earlier run's copy.
		p.Logger.Info("ingest.item.duplicate", "source_id", msg.SourceID)
		return Outcome{SourceID: msg.SourceID, Status: StatusSkipped, Reason: "source already indexed"}
	}
	if err != nil {
		p.Logger.Error("ingest.item.persist_failed",
			"source_id", msg.SourceID, "error", err)
		return Outcome{SourceID: msg.SourceID, Status: StatusFailed, Stage: StagePersist, Reason: err.Error()}
	}

	p.Logger.Info("ingest.item.ok",
		"source_id", msg.SourceID,
		"receipt_id", rec.ID,
		"vendor", rec.Vendor,
		"amount", rec.Amount.StringFixed(2),
		"date", rec.ReceiptDate.Format("2006-01-02"),
		"needs_review", needsReview,
		"method", method,
		"path", relPath,
	)
	return Outcome{
		SourceID:    msg.SourceID,
		Status:      StatusDone,
		ReceiptID:   rec.ID,
		NeedsReview: needsReview,
	}
}
