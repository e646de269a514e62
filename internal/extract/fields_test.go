package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsFromJSON(t *testing.T) {
	doc := `{"vendor":"Amazon","amount":"42.99","currency":"EUR",` +
		`"transaction_date":"2026-08-10","description":"USB cables","confidence":0.92}`

	f, err := FieldsFromJSON([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "Amazon", f.Vendor)
	assert.Equal(t, "42.99", f.Amount.StringFixed(2))
	assert.Equal(t, "EUR", f.Currency)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), f.TxDate)
	assert.Equal(t, "USB cables", f.Description)
	assert.Equal(t, 0.92, f.Confidence)
}

func TestFieldsFromJSONDefaultsCurrencyToUSD(t *testing.T) {
	doc := `{"vendor":"Amazon","amount":"42.99","transaction_date":"2026-08-10","confidence":0.9}`

	f, err := FieldsFromJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "USD", f.Currency)
}

func TestFieldsFromJSONRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"blank vendor", `{"vendor":"  ","amount":"5.00","transaction_date":"2026-08-10","confidence":0.9}`},
		{"zero amount", `{"vendor":"A","amount":"0","transaction_date":"2026-08-10","confidence":0.9}`},
		{"negative amount", `{"vendor":"A","amount":"-5.00","transaction_date":"2026-08-10","confidence":0.9}`},
		{"unparseable amount", `{"vendor":"A","amount":"five","transaction_date":"2026-08-10","confidence":0.9}`},
		{"bad date", `{"vendor":"A","amount":"5.00","transaction_date":"10/08/2026","confidence":0.9}`},
		{"impossible date", `{"vendor":"A","amount":"5.00","transaction_date":"2026-02-31","confidence":0.9}`},
		{"confidence above one", `{"vendor":"A","amount":"5.00","transaction_date":"2026-08-10","confidence":1.5}`},
		{"bad currency", `{"vendor":"A","amount":"5.00","currency":"US","transaction_date":"2026-08-10","confidence":0.9}`},
		{"not json", `vendor: A`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FieldsFromJSON([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidReply)
		})
	}
}
