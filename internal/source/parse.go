package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/expenseworks/receipts-index/internal/entity"
)

// ParseMessage decodes one RFC 5322 message into a RawMessage. The first
// text/plain and text/html parts become the bodies; every other part with a
// filename or content id is carried as an attachment.
func ParseMessage(r io.Reader) (*entity.RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("open message: %w", err)
	}

	h := mr.Header
	subject, _ := h.Subject()
	sender, _ := h.Text("From")
	date, _ := h.Date()
	if date.IsZero() {
		date = time.Now().UTC()
	}

	msg := &entity.RawMessage{
		Subject:   subject,
		Sender:    sender,
		Timestamp: date,
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch hdr := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := hdr.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read part body: %w", err)
			}
			switch {
			case ct == "text/plain" && msg.TextBody == "":
				msg.TextBody = string(body)
			case ct == "text/html" && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			default:
				// Inline images and other non-text parts are kept as
				// attachments so cid: references can be resolved later.
				cid := normalizeMessageID(hdr.Get("Content-Id"))
				name := cid
				if name == "" {
					name = "unnamed"
				}
				msg.Attachments = append(msg.Attachments, entity.Attachment{
					Filename:    name,
					ContentType: ct,
					ContentID:   cid,
					Data:        body,
				})
			}
		case *mail.AttachmentHeader:
			ct, _, _ := hdr.ContentType()
			filename, _ := hdr.Filename()
			if filename == "" {
				filename = "unnamed"
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment body: %w", err)
			}
			msg.Attachments = append(msg.Attachments, entity.Attachment{
				Filename:    filename,
				ContentType: ct,
				ContentID:   normalizeMessageID(hdr.Get("Content-Id")),
				Data:        body,
			})
		}
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		msg.SourceID = id
	} else {
		msg.SourceID = fallbackSourceID(subject, h.Get("Date"), sender)
	}
	return msg, nil
}

// fallbackSourceID derives a stable identifier for messages that carry no
// Message-ID header.
func fallbackSourceID(subject, date, sender string) string {
	sum := sha256.Sum256([]byte(subject + "|" + date + "|" + sender))
	return hex.EncodeToString(sum[:])
}

// normalizeMessageID strips angle brackets and surrounding space from a
// message or content id so every layer compares the same form.
func normalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
