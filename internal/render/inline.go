package render

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/expenseworks/receipts-index/internal/entity"
)

var cidRefPattern = regexp.MustCompile(`cid:([^\s"'>]+)`)

// InlineImages rewrites cid: references into data: URIs using the message's
// image attachments, so the rendered page needs no network access.
// References without a matching attachment are left alone. Attachments are
// looked up by Content-ID and by filename, since some senders put the cid in
// the filename slot.
func InlineImages(markup string, attachments []entity.Attachment) string {
	images := make(map[string]entity.Attachment)
	for _, att := range attachments {
		if !strings.HasPrefix(strings.ToLower(att.ContentType), "image/") {
			continue
		}
		if att.ContentID != "" {
			images[att.ContentID] = att
		}
		if att.Filename != "" {
			images[att.Filename] = att
		}
	}
	if len(images) == 0 {
		return markup
	}

	return cidRefPattern.ReplaceAllStringFunc(markup, func(ref string) string {
		att, ok := images[strings.TrimPrefix(ref, "cid:")]
		if !ok {
			return ref
		}
		return "data:" + att.ContentType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
	})
}
