// Package render turns parsed receipt emails into PDF documents.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/htmlutil"
)

// Render method labels, in falling order of fidelity.
const (
	MethodAttachment   = "attachment"
	MethodHTML         = "html"
	MethodStrippedHTML = "stripped_html"
	MethodText         = "text"
	MethodHeadersOnly  = "headers_only"
)

// ErrRenderFailed wraps the last engine error once every strategy in the
// chain has been tried.
var ErrRenderFailed = errors.New("no render strategy produced a pdf")

// Engine renders an HTML document into PDF bytes.
type Engine interface {
	RenderPDF(ctx context.Context, markup string) ([]byte, error)
	Close() error
}

// Builder picks the best rendering strategy for a message: a PDF attachment
// passes through untouched, an HTML body renders directly, and everything
// else goes through the plain-text document template. Engine failures fall
// through to the next strategy instead of failing the item.
type Builder struct {
	engine Engine
	logger *slog.Logger
}

func NewBuilder(engine Engine, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{engine: engine, logger: logger}
}

// Render produces the PDF for a message and reports which strategy made it.
func (b *Builder) Render(ctx context.Context, msg *entity.RawMessage) ([]byte, string, error) {
	start := time.Now()

	if data := findPDFAttachment(msg.Attachments); data != nil {
		b.logger.Debug("render.pdf.ok",
			"source_id", msg.SourceID, "method", MethodAttachment, "bytes", len(data))
		return data, MethodAttachment, nil
	}

	var lastErr error
	try := func(method, markup string) ([]byte, bool) {
		data, err := b.engine.RenderPDF(ctx, markup)
		if err != nil {
			lastErr = err
			b.logger.Warn("render.pdf.strategy_failed",
				"source_id", msg.SourceID, "method", method, "error", err)
			return nil, false
		}
		b.logger.Debug("render.pdf.ok",
			"source_id", msg.SourceID, "method", method,
			"bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
		return data, true
	}

	if strings.TrimSpace(msg.HTMLBody) != "" {
		if data, ok := try(MethodHTML, InlineImages(msg.HTMLBody, msg.Attachments)); ok {
			return data, MethodHTML, nil
		}
		// Broken markup renders safely once stripped into the text document.
		if text, err := htmlutil.StripTags(msg.HTMLBody); err == nil && text != "" {
			if markup, err := TextDocument(msg, text); err == nil {
				if data, ok := try(MethodStrippedHTML, markup); ok {
					return data, MethodStrippedHTML, nil
				}
			}
		}
	}

	if strings.TrimSpace(msg.TextBody) != "" {
		markup, err := TextDocument(msg, msg.TextBody)
		if err != nil {
			lastErr = err
		} else if data, ok := try(MethodText, markup); ok {
			return data, MethodText, nil
		}
	}

	markup, err := TextDocument(msg, "")
	if err != nil {
		lastErr = err
	} else if data, ok := try(MethodHeadersOnly, markup); ok {
		return data, MethodHeadersOnly, nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRenderFailed, lastErr)
	}
	return nil, "", ErrRenderFailed
}

func findPDFAttachment(attachments []entity.Attachment) []byte {
	for _, att := range attachments {
		if strings.EqualFold(att.ContentType, "application/pdf") {
			return att.Data
		}
	}
	return nil
}
