package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SearchQuery filters the receipt index. Nil or zero fields are not applied;
// the remaining filters are combined with AND. Range bounds are inclusive.
type SearchQuery struct {
	Vendor      string           `json:"vendor,omitempty"`
	AmountMin   *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax   *decimal.Decimal `json:"amount_max,omitempty"`
	DateFrom    *time.Time       `json:"date_from,omitempty"`
	DateTo      *time.Time       `json:"date_to,omitempty"`
	NeedsReview *bool            `json:"needs_review,omitempty"`
}
