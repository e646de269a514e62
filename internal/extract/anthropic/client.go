package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/extract"
	"github.com/expenseworks/receipts-index/internal/retry"
)

// ExtractFields implements extract.FieldExtractor over the Messages API.
// The reply is validated strictly first; on failure a lenient sanitize pass
// runs and the document is validated again before fields are parsed.
func (c *Client) ExtractFields(ctx context.Context, emailCtx string) (*entity.ReceiptFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	log := c.logger
	if runID := common.RunIDFromContext(ctx); runID != "" {
		log = log.With("run_id", runID)
	}

	log.Info("extract.llm.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"context_len", len(emailCtx),
	)

	schema := extract.BuildFieldsJSONSchema()
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		System: []sdk.TextBlockParam{
			{Text: extract.BuildSystemPrompt()},
			{Text: "JSON Schema:\n" + mustJSON(schema)},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(emailCtx + "\n\nReturn ONLY JSON that matches the provided schema.")),
		},
	}

	retryCfg := retry.Config{
		MaxAttempts: c.cfg.MaxRetries,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("extract.llm.retry",
				"req_id", rid, "attempt", attempt,
				"delay_ms", delay.Milliseconds(), "error", err,
			)
		},
		IsRetryable: isRetryableAPIError,
	}

	var msg *sdk.Message
	apiErr := retry.Do(ctx, retryCfg, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		m, err := c.api.Messages.New(callCtx, params)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if apiErr != nil {
		log.Error("extract.llm.api_error",
			"req_id", rid, "error", apiErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, fmt.Errorf("anthropic messages: %w", apiErr)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	reply := extract.StripCodeFences(sb.String())
	if reply == "" {
		log.Error("extract.llm.empty_reply",
			"req_id", rid, "stop_reason", string(msg.StopReason),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, fmt.Errorf("%w: no text content in reply", extract.ErrInvalidReply)
	}
	rawContent := []byte(reply)

	// Validate strictly first.
	if err := extract.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		cleaned, dropped, sErr := extract.SanitizeReplyJSON(rawContent)
		if sErr != nil {
			log.Error("extract.llm.sanitize_failed",
				"req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, rawContent, fmt.Errorf("%w: sanitize: %v", extract.ErrInvalidReply, sErr)
		}
		if vErr := extract.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			log.Error("extract.llm.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, rawContent, fmt.Errorf("%w: schema validation: %v", extract.ErrInvalidReply, vErr)
		}
		log.Warn("extract.llm.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		rawContent = cleaned
	}

	fields, err := extract.FieldsFromJSON(rawContent)
	if err != nil {
		log.Error("extract.llm.parse_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, rawContent, err
	}

	log.Info("extract.llm.ok",
		"req_id", rid,
		"vendor", fields.Vendor,
		"amount", fields.Amount.StringFixed(2),
		"currency", fields.Currency,
		"tx_date", fields.TxDate.Format("2006-01-02"),
		"confidence", fields.Confidence,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, rawContent, nil
}

// isRetryableAPIError retries rate limits, server errors, and transient
// transport failures. Per-attempt timeouts surface as DeadlineExceeded; the
// outer context is checked separately by retry.Do.
func isRetryableAPIError(err error) bool {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return retry.DefaultIsRetryable(err)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
