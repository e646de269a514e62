package extract

// BuildFieldsJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. The model is told to match it and the reply is validated
// against it locally.
func BuildFieldsJSONSchema() map[string]any {
	props := map[string]any{
		"vendor":           map[string]any{"type": "string", "minLength": 1},
		"amount":           amountProp(),
		"currency":         map[string]any{"type": "string", "minLength": 3, "maxLength": 3, "pattern": `^[A-Z]{3}$`},
		"transaction_date": map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"description":      map[string]any{"type": "string"},
		"confidence":       map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"vendor", "amount", "transaction_date", "confidence"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func amountProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^\d+(\.\d{1,2})?$`, // charged totals are never negative
	}
}
