// Package htmlutil extracts readable text from HTML email bodies.
package htmlutil

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripTags reduces HTML markup to its visible text content. Script, style
// and noscript elements are dropped entirely; the remaining text keeps its
// line structure with runs of blank lines collapsed.
func StripTags(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return NormalizeText(doc.Text()), nil
}

// NormalizeText trims surrounding whitespace on every line and collapses
// runs of blank lines into a single one.
func NormalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	pendingBlank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			pendingBlank = true
			continue
		}
		if pendingBlank && len(out) > 0 {
			out = append(out, "")
		}
		pendingBlank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
