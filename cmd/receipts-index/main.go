package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/export"
	"github.com/expenseworks/receipts-index/internal/extract/anthropic"
	"github.com/expenseworks/receipts-index/internal/pipeline"
	"github.com/expenseworks/receipts-index/internal/render"
	"github.com/expenseworks/receipts-index/internal/render/chromium"
	"github.com/expenseworks/receipts-index/internal/repository"
	"github.com/expenseworks/receipts-index/internal/source"
	"github.com/expenseworks/receipts-index/internal/store"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func printUsage() {
	fmt.Printf(`Usage: receipts-index <command> [flags]

Commands:
  ingest   fetch new receipt emails, extract, render and index them
  search   query the index (-vendor, -min, -max, -from, -to, -needs-review)
  show     print one receipt by -id
  export   write search results to an XLSX workbook (-o)

Configuration comes from the environment (DATABASE_URL or RECEIPTS_DB_PATH,
RECEIPT_STORE_PATH, IMAP_* or MAILDIR_PATH, ANTHROPIC_API_KEY, LOG_LEVEL).
A .env file in the working directory is loaded when present.
`)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	// Missing .env is fine; the environment alone may carry everything.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		printError("Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, cfg, logger, os.Args[2:])
	case "search":
		err = runSearch(ctx, cfg, logger, os.Args[2:])
	case "show":
		err = runShow(ctx, cfg, logger, os.Args[2:])
	case "export":
		err = runExport(ctx, cfg, logger, os.Args[2:])
	case "help", "-h", "-help", "--help":
		printUsage()
		return
	default:
		printError("Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr so stdout stays clean for command output.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openDB(ctx context.Context, cfg *common.Config, inmem bool, logger *slog.Logger) (*repository.DB, error) {
	dbCfg := repository.Config{
		DSN:             cfg.Database.DSN,
		SQLitePath:      cfg.Database.SQLitePath,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}
	if inmem {
		dbCfg.DSN = ""
		dbCfg.SQLitePath = ":memory:"
	}

	db, err := repository.Open(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func runIngest(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var (
		maildir = fs.String("maildir", cfg.Source.MaildirPath, "ingest .eml files from this directory instead of IMAP")
		inmem   = fs.Bool("inmem", false, "use an in-memory database (dry runs)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Source.MaildirPath = *maildir // the flag wins over MAILDIR_PATH
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}

	var src source.Adapter
	switch {
	case *maildir != "":
		src = source.NewMaildirAdapter(afero.NewOsFs(), *maildir, logger)
	case cfg.IMAP.Host != "":
		src = source.NewIMAPAdapter(source.IMAPConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Folder:   cfg.IMAP.Folder,
			Timeout:  cfg.IMAP.Timeout,
		}, logger)
	default:
		return errors.New("no source configured: set IMAP_HOST or pass -maildir")
	}

	db, err := openDB(ctx, cfg, *inmem, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)
	receipts := repository.NewReceiptRepository(db, logger)

	files, err := store.NewLocalStore(afero.NewOsFs(), cfg.Store.Root, logger)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}

	extractor := anthropic.NewClient(anthropic.Config{
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		MaxTokens:  cfg.LLM.MaxTokens,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)

	engine, err := chromium.NewEngine(chromium.Config{Timeout: cfg.Render.Timeout}, logger)
	if err != nil {
		return fmt.Errorf("start render engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("render.chromium.stop_error", "error", err)
		}
	}()

	pipe := pipeline.New(logger, pipeline.Config{
		ReviewThreshold:  cfg.Pipeline.ReviewThreshold,
		SourceAttempts:   cfg.Source.MaxAttempts,
		SourceRetryDelay: cfg.Source.RetryDelay,
	}, src, extractor, render.NewBuilder(engine, logger), files, receipts)

	summary, runErr := pipe.Run(ctx)
	if runErr != nil {
		fmt.Printf("Ingest run aborted.\n")
	} else {
		fmt.Printf("Ingest run complete!\n")
	}
	fmt.Printf("- Indexed: %d\n", summary.Done)
	fmt.Printf("- Skipped: %d\n", summary.Skipped)
	fmt.Printf("- Failed: %d\n", summary.FailedTotal())
	fmt.Printf("- Needs review: %d\n", summary.NeedsReview)
	for _, o := range summary.Outcomes {
		if o.Status == pipeline.StatusFailed {
			fmt.Printf("  failed %s at %s: %s\n", o.SourceID, o.Stage, o.Reason)
		}
	}
	if runErr != nil {
		return fmt.Errorf("ingest run: %w", runErr)
	}
	return nil
}

// queryFlags registers the shared search filter flags on a FlagSet.
type queryFlags struct {
	vendor      *string
	min         *string
	max         *string
	from        *string
	to          *string
	needsReview *string
}

func registerQueryFlags(fs *flag.FlagSet) *queryFlags {
	return &queryFlags{
		vendor:      fs.String("vendor", "", "vendor substring, case-insensitive"),
		min:         fs.String("min", "", "minimum amount, inclusive"),
		max:         fs.String("max", "", "maximum amount, inclusive"),
		from:        fs.String("from", "", "earliest transaction date YYYY-MM-DD, inclusive"),
		to:          fs.String("to", "", "latest transaction date YYYY-MM-DD, inclusive"),
		needsReview: fs.String("needs-review", "", "filter by review flag (true|false)"),
	}
}

func (qf *queryFlags) build() (*entity.SearchQuery, error) {
	q := &entity.SearchQuery{Vendor: *qf.vendor}
	if *qf.min != "" {
		d, err := decimal.NewFromString(*qf.min)
		if err != nil {
			return nil, fmt.Errorf("invalid -min %q: %w", *qf.min, err)
		}
		q.AmountMin = &d
	}
	if *qf.max != "" {
		d, err := decimal.NewFromString(*qf.max)
		if err != nil {
			return nil, fmt.Errorf("invalid -max %q: %w", *qf.max, err)
		}
		q.AmountMax = &d
	}
	if *qf.from != "" {
		t, err := time.ParseInLocation("2006-01-02", *qf.from, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid -from %q: use YYYY-MM-DD", *qf.from)
		}
		q.DateFrom = &t
	}
	if *qf.to != "" {
		t, err := time.ParseInLocation("2006-01-02", *qf.to, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid -to %q: use YYYY-MM-DD", *qf.to)
		}
		q.DateTo = &t
	}
	if *qf.needsReview != "" {
		b, err := strconv.ParseBool(*qf.needsReview)
		if err != nil {
			return nil, fmt.Errorf("invalid -needs-review %q: use true or false", *qf.needsReview)
		}
		q.NeedsReview = &b
	}
	return q, nil
}

func runSearch(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	qf := registerQueryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := qf.build()
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	recs, err := repository.NewReceiptRepository(db, logger).Search(ctx, q)
	if err != nil {
		return err
	}
	for _, r := range recs {
		review := ""
		if r.NeedsReview {
			review = "review"
		}
		fmt.Printf("%s\t%s\t%s\t%s %s\t%s\t%s\n",
			r.ID, r.ReceiptDate.Format("2006-01-02"), r.Vendor,
			r.Amount.StringFixed(2), r.Currency, review, r.PDFPath)
	}
	return nil
}

func runShow(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	idStr := fs.String("id", "", "receipt id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *idStr == "" {
		return errors.New("-id is required")
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("invalid -id %q: %w", *idStr, err)
	}

	db, err := openDB(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	r, err := repository.NewReceiptRepository(db, logger).GetByID(ctx, id)
	if err != nil {
		return err
	}

	files, err := store.NewLocalStore(afero.NewOsFs(), cfg.Store.Root, logger)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}

	review := "no"
	if r.NeedsReview {
		review = "yes"
	}
	fmt.Printf("ID:           %s\n", r.ID)
	fmt.Printf("Vendor:       %s\n", r.Vendor)
	fmt.Printf("Amount:       %s %s\n", r.Amount.StringFixed(2), r.Currency)
	fmt.Printf("Date:         %s\n", r.ReceiptDate.Format("2006-01-02"))
	if r.Description != "" {
		fmt.Printf("Description:  %s\n", r.Description)
	}
	fmt.Printf("Confidence:   %.2f\n", r.Confidence)
	fmt.Printf("Needs review: %s\n", review)
	fmt.Printf("Source:       %s (%s)\n", r.SourceID, r.SourceType)
	fmt.Printf("Email:        %q from %s at %s\n",
		r.EmailSubject, r.EmailSender, r.EmailDate.Format(time.RFC3339))
	fmt.Printf("PDF:          %s\n", files.AbsPath(r.PDFPath))
	fmt.Printf("Indexed at:   %s\n", r.CreatedAt.Format(time.RFC3339))
	return nil
}

func runExport(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	qf := registerQueryFlags(fs)
	out := fs.String("o", "receipts.xlsx", "output XLSX file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := qf.build()
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	svc := export.NewService(repository.NewReceiptRepository(db, logger), logger)
	f, err := svc.Export(ctx, q)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(*out); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("Wrote %s\n", *out)
	return nil
}
