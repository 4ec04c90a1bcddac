package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// defaultCandidates is the ordered model preference list: lightweight
// flash models are attempted before the heavier pro ones.
var defaultCandidates = []string{
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

// receiptSchema constrains structured responses to an array of
// {name, price} objects.
var receiptSchema = &genai.Schema{
	Type:        genai.TypeArray,
	Description: "Line items purchased on the receipt.",
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":  {Type: genai.TypeString, Description: "Item name."},
			"price": {Type: genai.TypeNumber, Description: "Item price."},
		},
		Required: []string{"name", "price"},
	},
}

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client     *genai.Client
	candidates []string
	discover   bool
}

// NewGemini creates a new Gemini Extractor instance. candidates is the
// ordered list of model names to try; when empty the default preference
// list is used. With discover enabled the candidate list is refreshed
// from the backend's available models before each extraction.
func NewGemini(apiKey string, candidates []string, discover bool) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(candidates) == 0 {
		candidates = defaultCandidates
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:     client,
		candidates: rankCandidates(candidates),
		discover:   discover,
	}, nil
}

// ExtractItems analyzes a receipt image and returns its line items,
// falling back across candidate models when the selected one is
// unavailable.
func (g *Gemini) ExtractItems(ctx context.Context, imageData []byte, contentType string) ([]RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	candidates := g.candidates
	if g.discover {
		if discovered, err := g.availableCandidates(ctx); err != nil {
			slog.Warn("Model discovery failed, using configured candidates", "error", err)
		} else if len(discovered) > 0 {
			candidates = discovered
		}
	}

	return extractWithFallback(candidates, func(model string) ([]RawItem, error) {
		return g.attempt(ctx, model, imageData, contentType)
	})
}

// extractWithFallback attempts candidates in order. An availability
// failure advances to the next candidate; any other failure class is a
// content problem and is surfaced immediately without further attempts.
func extractWithFallback(candidates []string, attempt func(model string) ([]RawItem, error)) ([]RawItem, error) {
	var tried []string
	for _, model := range candidates {
		items, err := attempt(model)
		if err == nil {
			return items, nil
		}
		if !isModelUnavailable(err) {
			return nil, err
		}
		slog.Warn("Extraction model unavailable, trying next candidate", "model", model, "error", err)
		tried = append(tried, model)
	}
	return nil, &AllModelsUnavailableError{Tried: tried}
}

// attempt runs one extraction against a single model.
func (g *Gemini) attempt(ctx context.Context, modelName string, imageData []byte, contentType string) ([]RawItem, error) {
	model := g.client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = receiptSchema

	parts := []genai.Part{
		genai.ImageData(imageFormat(contentType), imageData),
		genai.Text(itemExtractionPrompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content with %s: %w", modelName, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &MalformedOutputError{Err: fmt.Errorf("empty response from %s", modelName)}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	// The response schema should guarantee a bare JSON array, but the
	// output is still untrusted: sanitize and validate it the same way
	// as free-form text.
	return parseItems(responseText.String())
}

// availableCandidates queries the backend for models that support
// content generation and ranks them.
func (g *Gemini) availableCandidates(ctx context.Context) ([]string, error) {
	var names []string
	it := g.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing models: %w", err)
		}
		if !supportsGeneration(info.SupportedGenerationMethods) {
			continue
		}
		names = append(names, strings.TrimPrefix(info.Name, "models/"))
	}
	return rankCandidates(names), nil
}

func supportsGeneration(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

// rankCandidates orders models for attempt priority: flash variants
// first, pro variants last, everything else keeps its relative position.
func rankCandidates(candidates []string) []string {
	ranked := make([]string, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return candidateRank(ranked[i]) < candidateRank(ranked[j])
	})
	return ranked
}

func candidateRank(name string) int {
	switch {
	case strings.Contains(name, "flash"):
		return 0
	case strings.Contains(name, "pro"):
		return 2
	default:
		return 1
	}
}

// imageFormat maps a MIME type to the format suffix genai.ImageData
// expects (e.g. "image/jpeg" -> "jpeg").
func imageFormat(contentType string) string {
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
	if format == "" || strings.Contains(format, "/") {
		return "jpeg"
	}
	return format
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
