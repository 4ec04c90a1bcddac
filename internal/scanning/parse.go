package scanning

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// placeholderName is used when the model omits or blanks an item name.
const placeholderName = "Item desconocido"

// sanitizeModelOutput strips markdown code fences and surrounding
// whitespace from a model response, leaving the bare payload.
func sanitizeModelOutput(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseItems parses a model response into normalized line items.
//
// The response must be a JSON array after sanitization. Anything that is
// not JSON yields a MalformedOutputError carrying the raw text; valid JSON
// that is not an array yields ErrInvalidFormat. A parse failure never
// produces partial data.
func parseItems(text string) ([]RawItem, error) {
	cleaned := sanitizeModelOutput(text)

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, &MalformedOutputError{Raw: cleaned, Err: err}
	}

	records, ok := parsed.([]any)
	if !ok {
		return nil, ErrInvalidFormat
	}

	items := make([]RawItem, 0, len(records))
	for _, record := range records {
		fields, _ := record.(map[string]any)
		items = append(items, RawItem{
			Name:  normalizeName(fields["name"]),
			Price: normalizePrice(fields["price"]),
		})
	}
	return items, nil
}

// normalizeName coerces an untrusted name value to a non-empty string.
func normalizeName(v any) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return placeholderName
	}
	return s
}

// normalizePrice coerces an untrusted price value to a non-negative,
// finite number. Missing, non-numeric, negative, and NaN values all
// collapse to 0.
func normalizePrice(v any) float64 {
	var price float64
	switch n := v.(type) {
	case float64:
		price = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		price = parsed
	default:
		return 0
	}

	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0
	}
	return price
}
