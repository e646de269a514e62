package entity

import "time"

// Attachment is one decoded MIME part carried by a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id,omitempty"`
	Data        []byte `json:"-"`
}

// RawMessage is a single source item as fetched from a mail folder.
// The pipeline treats it as immutable once produced.
type RawMessage struct {
	SourceID    string       `json:"source_id"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	TextBody    string       `json:"-"`
	HTMLBody    string       `json:"-"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
