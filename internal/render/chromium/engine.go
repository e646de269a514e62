// Package chromium renders HTML to PDF through a headless Chromium driven
// by playwright.
package chromium

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Config for the chromium engine.
type Config struct {
	Timeout time.Duration // per-page render timeout
}

// Engine owns one playwright instance and one headless browser. Each render
// opens a fresh page and closes it when done.
type Engine struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *slog.Logger
}

// NewEngine starts playwright and launches the headless browser.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		if stopErr := pw.Stop(); stopErr != nil {
			logger.Debug("render.chromium.stop_error", "error", stopErr)
		}
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	logger.Info("render.chromium.ready", "timeout_ms", cfg.Timeout.Milliseconds())
	return &Engine{cfg: cfg, pw: pw, browser: browser, logger: logger}, nil
}

// RenderPDF renders the markup on a fresh page and returns A4 PDF bytes.
// playwright drives its own timeouts, so ctx goes unused here.
func (e *Engine) RenderPDF(_ context.Context, markup string) ([]byte, error) {
	page, err := e.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			e.logger.Debug("render.chromium.page_close_error", "error", closeErr)
		}
	}()

	if err := page.SetContent(markup, playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(e.cfg.Timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}

	data, err := page.PDF(playwright.PagePdfOptions{
		Format:          playwright.String("A4"),
		PrintBackground: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return data, nil
}

// Close shuts the browser down and stops playwright.
func (e *Engine) Close() error {
	var firstErr error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
