package scanning

import "context"

// RawItem is one purchased line item extracted from a receipt image,
// before it is loaded into a ledger.
type RawItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Extractor defines the interface for receipt item extraction backends
type Extractor interface {
	// ExtractItems analyzes a receipt image and returns its line items.
	// An empty slice is a valid result: the receipt was readable but no
	// items could be identified on it.
	ExtractItems(ctx context.Context, imageData []byte, contentType string) ([]RawItem, error)
	// Close closes the extractor and releases resources
	Close() error
}

// itemExtractionPrompt is the shared prompt used by all model backends.
const itemExtractionPrompt = `You are analyzing a photo of a restaurant or store receipt. Read all text in the image and extract every purchased line item with its price.

Return ONLY a valid JSON array in this exact format:
[
  {"name": "Item name", "price": 0.00}
]

Rules:
- Include only purchased goods and services.
- Do NOT include subtotal, tax, tip, service charge, discounts, or grand total lines.
- If a quantity appears (e.g. "2x Beer"), keep it as part of the item name.
- The price must be a number (not a string), representing the line total.
- Do not include any text before or after the JSON array.
- Do not use markdown code blocks.`
