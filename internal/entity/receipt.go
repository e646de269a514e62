package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptFields is the normalized metadata extracted from one message.
type ReceiptFields struct {
	Vendor      string          `json:"vendor"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	TxDate      time.Time       `json:"transaction_date"`
	Description string          `json:"description,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// Receipt represents one indexed receipt for data transfer between layers.
type Receipt struct {
	ID           uuid.UUID       `json:"id"`
	SourceID     string          `json:"source_id"`
	SourceType   string          `json:"source_type"`
	Vendor       string          `json:"vendor"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ReceiptDate  time.Time       `json:"receipt_date"`
	Description  string          `json:"description"`
	Confidence   float64         `json:"confidence"`
	NeedsReview  bool            `json:"needs_review"`
	PDFPath      string          `json:"pdf_path"`
	EmailSubject string          `json:"email_subject"`
	EmailSender  string          `json:"email_sender"`
	EmailDate    time.Time       `json:"email_date"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
