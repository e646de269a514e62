package extract

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal  = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	reDateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// StripCodeFences removes a markdown fence wrapper if the model added one
// around the JSON document.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the opening fence line with its optional language tag
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// SanitizeReplyJSON rescues replies that miss the strict schema:
//   - renames known synonyms (merchant_name -> vendor, total -> amount)
//   - coerces numeric amount -> string and quoted confidence -> number
//   - uppercases currency, drops null/empty optionals and unknown keys
//
// It returns the cleaned document plus the list of adjusted keys.
func SanitizeReplyJSON(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to the schema's keys
	renamed("merchant", "vendor")
	renamed("merchant_name", "vendor")
	renamed("vendor_name", "vendor")
	renamed("total", "amount")
	renamed("total_amount", "amount")
	renamed("tx_date", "transaction_date")
	renamed("date", "transaction_date")
	renamed("purchase_date", "transaction_date")
	renamed("currency_code", "currency")

	// 2) amount must be a plain decimal string
	if v, ok := m["amount"]; ok {
		switch t := v.(type) {
		case float64:
			m["amount"] = fmt.Sprintf("%.2f", t)
		case string:
			s := strings.TrimSpace(t)
			s = strings.TrimPrefix(s, "$")
			s = strings.ReplaceAll(s, ",", "")
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, "amount")
				dropped = append(dropped, "amount(empty)")
			} else if !reDecimal.MatchString(s) {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					m["amount"] = fmt.Sprintf("%.2f", f)
				} else {
					m["amount"] = s
				}
			} else {
				m["amount"] = s
			}
		case nil:
			delete(m, "amount")
			dropped = append(dropped, "amount(null)")
		default:
			delete(m, "amount")
			dropped = append(dropped, "amount(type)")
		}
	}

	// 3) confidence is a number; models sometimes quote it
	if v, ok := m["confidence"]; ok {
		switch t := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				m["confidence"] = f
			} else {
				delete(m, "confidence")
				dropped = append(dropped, "confidence(parse)")
			}
		case nil:
			delete(m, "confidence")
			dropped = append(dropped, "confidence(null)")
		}
	}

	// 4) currency casing; null or empty optionals go away
	if v, ok := m["currency"].(string); ok {
		s := strings.ToUpper(strings.TrimSpace(v))
		if s == "" {
			delete(m, "currency")
			dropped = append(dropped, "currency(empty)")
		} else {
			m["currency"] = s
		}
	}
	for _, k := range []string{"currency", "description"} {
		if v, ok := m[k]; ok && v == nil {
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		}
	}

	// 5) timestamps shrink to their date part
	if v, ok := m["transaction_date"].(string); ok {
		s := strings.TrimSpace(v)
		if len(s) > 10 && reDateOnly.MatchString(s[:10]) {
			m["transaction_date"] = s[:10]
			dropped = append(dropped, "transaction_date(truncated)")
		}
	}

	// 6) remove unknown keys (additionalProperties = false friendliness)
	allowed := map[string]struct{}{
		"vendor": {}, "amount": {}, "currency": {},
		"transaction_date": {}, "description": {}, "confidence": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	// 7) trim obvious strings
	trimKeys := []string{"vendor", "transaction_date", "description"}
	for _, k := range trimKeys {
		if v, ok := m[k].(string); ok {
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, dropped, nil
}
