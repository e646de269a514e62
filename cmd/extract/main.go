// Command extract runs the field extractor once (or N times, for eyeballing
// reply stability) over a single .eml file and prints the normalized fields.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/extract"
	"github.com/expenseworks/receipts-index/internal/extract/anthropic"
	"github.com/expenseworks/receipts-index/internal/source"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: extract <file.eml|-> [times]")
		os.Exit(2)
	}
	path := os.Args[1]
	times := 1
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Error("loading .env", "error", err)
		os.Exit(1)
	}
	cfg := common.LoadConfig()
	if cfg.LLM.APIKey == "" {
		logger.Error("ANTHROPIC_API_KEY env var is required")
		os.Exit(2)
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		logger.Error("read message", "path", path, "error", err)
		os.Exit(1)
	}

	msg, err := source.ParseMessage(bytes.NewReader(data))
	if err != nil {
		logger.Error("parse message", "path", path, "error", err)
		os.Exit(1)
	}
	emailCtx := extract.BuildEmailContext(msg)
	logger.Info("message parsed",
		"source_id", msg.SourceID, "subject", msg.Subject,
		"attachments", len(msg.Attachments), "context_len", len(emailCtx))

	client := anthropic.NewClient(anthropic.Config{
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		MaxTokens:  cfg.LLM.MaxTokens,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)

	for i := 1; i <= times; i++ {
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		start := time.Now()

		fields, raw, err := client.ExtractFields(runCtx, emailCtx)
		cancel()
		if err != nil {
			logger.Error("extract.run.error", "iter", i, "error", err)
			continue
		}
		// The verbatim reply goes to the log so reply drift across
		// iterations is visible; stdout carries only normalized fields.
		logger.Info("extract.run.ok", "iter", i,
			"elapsed_ms", time.Since(start).Milliseconds(), "raw", string(raw))

		out, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			logger.Error("encode fields", "error", err)
			os.Exit(1)
		}
		fmt.Println(string(out))

		if i < times {
			time.Sleep(750 * time.Millisecond)
		}
	}
}
