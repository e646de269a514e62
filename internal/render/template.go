package render

import (
	"html/template"
	"strings"
	"time"

	"github.com/expenseworks/receipts-index/internal/entity"
)

// plainTextDocument wraps a text-only email in a printable page. The header
// block mirrors what a mail client would show above the body.
const plainTextDocument = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: monospace; font-size: 12px; margin: 2em; }
  .header { border-bottom: 1px solid #ccc; padding-bottom: 1em; margin-bottom: 1em; }
  .header p { margin: 0.2em 0; }
  pre { white-space: pre-wrap; word-wrap: break-word; }
</style>
</head>
<body>
<div class="header">
  <p><strong>Subject:</strong> {{.Subject}}</p>
  <p><strong>From:</strong> {{.Sender}}</p>
  <p><strong>Date:</strong> {{.Date}}</p>
</div>
<pre>{{.Body}}</pre>
</body>
</html>
`

var textTmpl = template.Must(template.New("plaintext").Parse(plainTextDocument))

// TextDocument builds the printable HTML for a message body. An empty body
// renders a placeholder so headers-only emails still produce a document.
func TextDocument(msg *entity.RawMessage, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		body = "(no body content)"
	}
	var b strings.Builder
	err := textTmpl.Execute(&b, map[string]string{
		"Subject": msg.Subject,
		"Sender":  msg.Sender,
		"Date":    msg.Timestamp.UTC().Format(time.RFC3339),
		"Body":    body,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
