package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/extract"
	"github.com/expenseworks/receipts-index/internal/render"
	"github.com/expenseworks/receipts-index/internal/repository"
	"github.com/expenseworks/receipts-index/internal/source"
	"github.com/expenseworks/receipts-index/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

func textEml(subject, sender, msgID, date, body string) string {
	return crlf(
		"From: "+sender,
		"To: receipts@example.com",
		"Subject: "+subject,
		"Date: "+date,
		"Message-Id: <"+msgID+">",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	)
}

func htmlEml(subject, sender, msgID, date, markup string) string {
	return crlf(
		"From: "+sender,
		"To: receipts@example.com",
		"Subject: "+subject,
		"Date: "+date,
		"Message-Id: <"+msgID+">",
		"Content-Type: text/html; charset=utf-8",
		"",
		markup,
	)
}

// stubEngine answers every RenderPDF call with a fixed payload unless failOn
// matches the markup.
type stubEngine struct {
	calls  []string
	failOn func(markup string) bool
}

func (e *stubEngine) RenderPDF(_ context.Context, markup string) ([]byte, error) {
	e.calls = append(e.calls, markup)
	if e.failOn != nil && e.failOn(markup) {
		return nil, errors.New("engine rejected markup")
	}
	return []byte("%PDF-1.4 stub"), nil
}

func (e *stubEngine) Close() error { return nil }

// cannedExtractor serves pre-baked fields keyed by the Subject line of the
// model context, standing in for the live API.
type cannedExtractor struct {
	fields map[string]*entity.ReceiptFields
	fail   map[string]error
	calls  []string
}

func subjectOf(emailCtx string) string {
	first, _, _ := strings.Cut(emailCtx, "\n")
	return strings.TrimPrefix(first, "Subject: ")
}

func (e *cannedExtractor) ExtractFields(_ context.Context, emailCtx string) (*entity.ReceiptFields, []byte, error) {
	subject := subjectOf(emailCtx)
	e.calls = append(e.calls, subject)
	if err, ok := e.fail[subject]; ok {
		return nil, nil, err
	}
	f, ok := e.fields[subject]
	if !ok {
		return nil, nil, errors.New("no canned fields for subject: " + subject)
	}
	return f, []byte("{}"), nil
}

func cannedFields(vendor, amount, date string, confidence float64) *entity.ReceiptFields {
	d, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		panic(err)
	}
	return &entity.ReceiptFields{
		Vendor:     vendor,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		TxDate:     d,
		Confidence: confidence,
	}
}

// testDeps bundles one fully wired pipeline over an in-memory maildir, file
// store, and database.
type testDeps struct {
	fs        afero.Fs
	engine    *stubEngine
	extractor *cannedExtractor
	repo      repository.ReceiptRepository
	files     store.FileStore
	pipe      *Pipeline
}

func newTestDeps(t *testing.T, emls map[string]string) *testDeps {
	t.Helper()
	logger := discardLogger()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("mail", 0o755))
	for name, body := range emls {
		require.NoError(t, afero.WriteFile(fs, "mail/"+name, []byte(body), 0o644))
	}

	db, err := repository.Open(context.Background(), repository.Config{SQLitePath: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(logger) })
	require.NoError(t, repository.EnsureSchema(context.Background(), db))
	repo := repository.NewReceiptRepository(db, logger)

	files, err := store.NewLocalStore(fs, "receipts", logger)
	require.NoError(t, err)

	engine := &stubEngine{}
	extractor := &cannedExtractor{
		fields: map[string]*entity.ReceiptFields{
			"Your Amazon.com order":      cannedFields("Amazon", "42.99", "2026-08-10", 0.95),
			"Your Amazon Fresh delivery": cannedFields("Amazon Fresh", "45.00", "2026-08-12", 0.90),
			"Your Costco receipt":        cannedFields("Costco", "99.00", "2026-08-11", 0.88),
			"Spotify Premium invoice":    cannedFields("Spotify", "10.99", "2026-08-13", 0.93),
		},
		fail: map[string]error{},
	}

	deps := &testDeps{
		fs:        fs,
		engine:    engine,
		extractor: extractor,
		repo:      repo,
		files:     files,
	}
	deps.pipe = New(logger, Config{ReviewThreshold: 0.60},
		source.NewMaildirAdapter(fs, "mail", logger),
		extractor,
		render.NewBuilder(engine, logger),
		files,
		repo,
	)
	return deps
}

func amazonEml() string {
	return textEml("Your Amazon.com order", "Amazon.com <order-update@amazon.example>",
		"order-123@amazon.example", "Mon, 10 Aug 2026 12:30:00 +0000", "Order total: $42.99")
}

func freshEml() string {
	return textEml("Your Amazon Fresh delivery", "Amazon Fresh <fresh@amazon.example>",
		"fresh-456@amazon.example", "Wed, 12 Aug 2026 09:00:00 +0000", "Delivery total: $45.00")
}

func costcoEml() string {
	return textEml("Your Costco receipt", "Costco <receipts@costco.example>",
		"costco-9@costco.example", "Tue, 11 Aug 2026 18:15:00 +0000", "Warehouse total: $99.00")
}

func countStoredPDFs(t *testing.T, fs afero.Fs) int {
	t.Helper()
	n := 0
	err := afero.Walk(fs, "receipts", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".pdf") {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestRunIngestsSingleMessage(t *testing.T) {
	deps := newTestDeps(t, map[string]string{"a-order.eml": amazonEml()})
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.FailedTotal())

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, "order-123@amazon.example", out.SourceID)
	assert.NotEqual(t, uuid.Nil, out.ReceiptID)
	assert.False(t, out.NeedsReview)

	rec, err := deps.repo.GetByID(ctx, out.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, "Amazon", rec.Vendor)
	assert.True(t, decimal.RequireFromString("42.99").Equal(rec.Amount))
	assert.Equal(t, "2026-08-10", rec.ReceiptDate.Format("2006-01-02"))
	assert.Equal(t, source.TypeMaildir, rec.SourceType)
	assert.Equal(t, "Your Amazon.com order", rec.EmailSubject)
	assert.NotEmpty(t, rec.PDFPath)

	ok, err := deps.files.Exists(rec.PDFPath)
	require.NoError(t, err)
	assert.True(t, ok)
	f, err := deps.files.Open(rec.PDFPath)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 stub"), data)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	deps := newTestDeps(t, map[string]string{"a-order.eml": amazonEml()})
	ctx := context.Background()

	first, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Done)

	// The second run reads the same maildir against the same index; the
	// already-indexed source never reaches the extractor but is still
	// accounted for as skipped.
	second, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Done)
	assert.Equal(t, first.Done, second.Skipped)
	assert.Empty(t, second.Outcomes)
	assert.Len(t, deps.extractor.calls, 1)

	all, err := deps.repo.Search(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, countStoredPDFs(t, deps.fs))
}

func TestRunSkipsDuplicateWithinRun(t *testing.T) {
	// Same Message-Id under two file names, as happens with a re-delivered
	// copy in the same folder.
	deps := newTestDeps(t, map[string]string{
		"a-order.eml": amazonEml(),
		"b-order.eml": amazonEml(),
	})
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.FailedTotal())

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, StatusDone, summary.Outcomes[0].Status)
	assert.Equal(t, StatusSkipped, summary.Outcomes[1].Status)
	assert.Equal(t, "source already indexed", summary.Outcomes[1].Reason)

	all, err := deps.repo.Search(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunSearchAfterIngest(t *testing.T) {
	deps := newTestDeps(t, map[string]string{
		"a-order.eml":  amazonEml(),
		"b-fresh.eml":  freshEml(),
		"c-costco.eml": costcoEml(),
	})
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Done)

	min := decimal.RequireFromString("10")
	max := decimal.RequireFromString("50")
	got, err := deps.repo.Search(ctx, &entity.SearchQuery{
		Vendor:    "amazon",
		AmountMin: &min,
		AmountMax: &max,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Amazon Fresh", got[0].Vendor)
	assert.Equal(t, "Amazon", got[1].Vendor)
}

func TestRunFallsBackToStrippedHTML(t *testing.T) {
	deps := newTestDeps(t, map[string]string{
		"a-invoice.eml": htmlEml("Spotify Premium invoice", "Spotify <no-reply@spotify.example>",
			"inv-2026-08@spotify.example", "Thu, 13 Aug 2026 07:45:00 +0000",
			`<table><tr><td>Spotify Premium</td><td>$10.99</td></tr></table>`),
	})
	deps.engine.failOn = func(markup string) bool {
		return strings.Contains(markup, "<table")
	}
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Zero(t, summary.FailedTotal())

	// First attempt carried the raw markup, the retry the stripped text
	// wrapped in the plain-text document.
	require.Len(t, deps.engine.calls, 2)
	assert.Contains(t, deps.engine.calls[0], "<table")
	assert.NotContains(t, deps.engine.calls[1], "<table")
	assert.Contains(t, deps.engine.calls[1], "Spotify Premium")
	assert.Contains(t, deps.engine.calls[1], "<pre>")
}

func TestRunExtractFailureDoesNotBlockOthers(t *testing.T) {
	deps := newTestDeps(t, map[string]string{
		"a-order.eml": amazonEml(),
		"b-fresh.eml": freshEml(),
	})
	deps.extractor.fail["Your Amazon.com order"] = extract.ErrInvalidReply
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Failed[StageExtract])

	all, err := deps.repo.Search(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Amazon Fresh", all[0].Vendor)
}

func TestRunRecordsUnparseableAsFetchFailure(t *testing.T) {
	deps := newTestDeps(t, map[string]string{
		"a-broken.eml": "this is not a mail header\r\n\r\nbody",
		"b-order.eml":  amazonEml(),
	})
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Failed[StageFetch])

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	assert.Equal(t, StageFetch, summary.Outcomes[0].Stage)
	assert.Equal(t, "a-broken.eml", summary.Outcomes[0].SourceID)
}

func TestRunFlagsLowConfidenceForReview(t *testing.T) {
	deps := newTestDeps(t, map[string]string{"a-order.eml": amazonEml()})
	deps.extractor.fields["Your Amazon.com order"] = cannedFields("Amazon", "42.99", "2026-08-10", 0.42)
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.NeedsReview)
	assert.True(t, summary.Outcomes[0].NeedsReview)

	rec, err := deps.repo.GetByID(ctx, summary.Outcomes[0].ReceiptID)
	require.NoError(t, err)
	assert.True(t, rec.NeedsReview)
}

func TestRunZeroThresholdDisablesReview(t *testing.T) {
	deps := newTestDeps(t, map[string]string{"a-order.eml": amazonEml()})
	deps.extractor.fields["Your Amazon.com order"] = cannedFields("Amazon", "42.99", "2026-08-10", 0.05)
	deps.pipe.Cfg.ReviewThreshold = 0
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Done)
	assert.Zero(t, summary.NeedsReview)

	rec, err := deps.repo.GetByID(ctx, summary.Outcomes[0].ReceiptID)
	require.NoError(t, err)
	assert.False(t, rec.NeedsReview)
	assert.InDelta(t, 0.05, rec.Confidence, 1e-9)
}

// cancelAfter wraps an extractor and cancels the run when the trigger
// subject comes through, simulating an operator interrupt mid-run.
type cancelAfter struct {
	inner   *cannedExtractor
	trigger string
	cancel  context.CancelFunc
}

func (e *cancelAfter) ExtractFields(ctx context.Context, emailCtx string) (*entity.ReceiptFields, []byte, error) {
	if subjectOf(emailCtx) == e.trigger {
		e.cancel()
		return nil, nil, ctx.Err()
	}
	return e.inner.ExtractFields(ctx, emailCtx)
}

func TestRunReturnsPartialSummaryOnCancel(t *testing.T) {
	deps := newTestDeps(t, map[string]string{
		"a-order.eml":  amazonEml(),
		"b-fresh.eml":  freshEml(),
		"c-costco.eml": costcoEml(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps.pipe.Extractor = &cancelAfter{
		inner:   deps.extractor,
		trigger: "Your Amazon Fresh delivery",
		cancel:  cancel,
	}

	summary, err := deps.pipe.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The first item landed before the interrupt; the third never started.
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Failed[StageExtract])
	assert.Len(t, summary.Outcomes, 2)

	all, err := deps.repo.Search(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunSourceErrorAborts(t *testing.T) {
	logger := discardLogger()
	fs := afero.NewMemMapFs()

	db, err := repository.Open(context.Background(), repository.Config{SQLitePath: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(logger) })
	require.NoError(t, repository.EnsureSchema(context.Background(), db))

	files, err := store.NewLocalStore(fs, "receipts", logger)
	require.NoError(t, err)

	pipe := New(logger, Config{},
		source.NewMaildirAdapter(fs, "nowhere", logger),
		&cannedExtractor{},
		render.NewBuilder(&stubEngine{}, logger),
		files,
		repository.NewReceiptRepository(db, logger),
	)

	summary, err := pipe.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch unprocessed")
	assert.Empty(t, summary.Outcomes)
}

func TestRunStoresAttachmentPassthrough(t *testing.T) {
	pdfBody := "JVBERi0xLjQ="
	eml := crlf(
		"From: Delta <receipts@delta.example>",
		"To: receipts@example.com",
		"Subject: Your Delta e-ticket receipt",
		"Date: Wed, 05 Aug 2026 12:30:00 +0000",
		"Message-Id: <ticket-55@delta.example>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Receipt attached.",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="receipt.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		pdfBody,
		"--outer--",
	)
	deps := newTestDeps(t, map[string]string{"a-ticket.eml": eml})
	deps.extractor.fields["Your Delta e-ticket receipt"] = cannedFields("Delta Air Lines", "189.50", "2026-08-05", 0.91)
	ctx := context.Background()

	summary, err := deps.pipe.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Done)
	assert.Empty(t, deps.engine.calls)

	rec, err := deps.repo.GetByID(ctx, summary.Outcomes[0].ReceiptID)
	require.NoError(t, err)
	f, err := deps.files.Open(rec.PDFPath)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}
