package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
)

// fieldsJSON is the wire shape of a model reply. Money stays a string until
// it is parsed into a decimal.
type fieldsJSON struct {
	Vendor      string  `json:"vendor"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	TxDate      string  `json:"transaction_date"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// FieldsFromJSON parses a schema-validated reply document into receipt
// fields, defaulting the currency to USD when the reply omits it.
func FieldsFromJSON(doc []byte) (*entity.ReceiptFields, error) {
	var f fieldsJSON
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidReply, err)
	}

	f.Vendor = strings.TrimSpace(f.Vendor)
	f.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))
	if f.Currency == "" {
		f.Currency = "USD"
	}

	v := common.NewValidator()
	v.Field("vendor", f.Vendor, common.Required)
	v.Field("currency", f.Currency, common.CurrencyCode)
	if v.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReply, v.ErrorMessage())
	}

	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidReply, f.Amount, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidReply, amount)
	}

	txDate, err := time.ParseInLocation("2006-01-02", f.TxDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction_date %q: %v", ErrInvalidReply, f.TxDate, err)
	}

	if f.Confidence < 0 || f.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidReply, f.Confidence)
	}

	return &entity.ReceiptFields{
		Vendor:      f.Vendor,
		Amount:      amount,
		Currency:    f.Currency,
		TxDate:      txDate,
		Description: strings.TrimSpace(f.Description),
		Confidence:  f.Confidence,
	}, nil
}
