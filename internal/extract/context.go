package extract

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/expenseworks/receipts-index/internal/entity"
	"github.com/expenseworks/receipts-index/internal/htmlutil"
)

// attachmentExcerptLimit caps how much extracted attachment text is handed
// to the model per attachment.
const attachmentExcerptLimit = 3000

// BuildEmailContext flattens a parsed email into the text block the model
// sees. Body preference order: plain text, stripped HTML, a placeholder when
// neither part exists. PDF attachments contribute a text excerpt each;
// attachments that cannot be read are left out silently.
func BuildEmailContext(msg *entity.RawMessage) string {
	var b strings.Builder
	b.WriteString("Subject: ")
	b.WriteString(msg.Subject)
	b.WriteString("\nFrom: ")
	b.WriteString(msg.Sender)
	b.WriteString("\nDate: ")
	b.WriteString(msg.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("\n\n--- Email Body ---\n")
	b.WriteString(bodyText(msg))

	for _, att := range msg.Attachments {
		if !isPDFAttachment(att) {
			continue
		}
		text, err := pdfText(att.Data)
		if err != nil {
			continue
		}
		excerpt := strings.TrimSpace(text)
		if excerpt == "" {
			continue
		}
		excerpt = truncateExcerpt(excerpt, attachmentExcerptLimit)
		b.WriteString("\n\n--- Attachment: ")
		b.WriteString(att.Filename)
		b.WriteString(" ---\n")
		b.WriteString(excerpt)
	}

	return b.String()
}

func bodyText(msg *entity.RawMessage) string {
	if s := strings.TrimSpace(msg.TextBody); s != "" {
		return s
	}
	if strings.TrimSpace(msg.HTMLBody) != "" {
		if s, err := htmlutil.StripTags(msg.HTMLBody); err == nil && s != "" {
			return s
		}
	}
	return "(no body content)"
}

// truncateExcerpt cuts s at the byte limit, backing the cut up so a
// multi-byte rune is never split in half.
func truncateExcerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n…(truncated)"
}

func isPDFAttachment(att entity.Attachment) bool {
	if strings.EqualFold(att.ContentType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(att.Filename), ".pdf")
}
