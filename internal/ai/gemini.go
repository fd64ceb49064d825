package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/affstack/deal-search-bot/internal/models"
)

// Extraction is the raw output of the language model for one query. Nothing
// here is trusted: the resolver validates and normalizes every field.
type Extraction struct {
	Geos       []string `json:"geos"`
	Partner    string   `json:"partner"`
	Constraint string   `json:"constraint"`
}

type Client struct {
	client  *genai.Client
	modelID string
}

// NewClient creates a Gemini-backed extractor. A nil client is returned when
// no API key is provided; callers degrade to exact matching.
func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: client, modelID: modelID}, nil
}

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"geos": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "GEO codes or group names mentioned in the query (e.g. [\"UK\", \"LATAM\"]). Empty if none.",
		},
		"partner": {
			Type:        genai.TypeString,
			Description: "Partner/advertiser name if one is mentioned, else empty string.",
		},
		"constraint": {
			Type:        genai.TypeString,
			Description: "Any remaining constraint such as a traffic source, funnel or pricing model (e.g. \"Facebook CPA\"), else empty string.",
		},
	},
	Required: []string{"geos", "partner", "constraint"},
}

// Extract asks the model for candidate GEOs, a candidate partner and a
// residual constraint. The reference snapshot is passed as context so the
// model prefers known names, but its output is still only a candidate set.
func (c *Client) Extract(ctx context.Context, raw string, ref *models.ReferenceData) (*Extraction, error) {
	if c == nil || c.client == nil {
		return &Extraction{}, nil
	}

	prompt := fmt.Sprintf(`You are a deal search assistant. Extract search parameters from the user's query.

Known GEO codes and groups: %s
Known traffic sources: %s

Query: %q

Return JSON adhering to the schema. Omit nothing you are unsure about; the
caller validates everything against reference data.`,
		strings.Join(knownGeoNames(ref), ", "),
		strings.Join(ref.TrafficSources, ", "),
		raw,
	)

	resp, err := c.client.Models.GenerateContent(ctx, c.modelID, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   extractionSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	// Clean up potential markdown formatting just in case.
	jsonStr := strings.TrimSpace(resp.Text())
	jsonStr = strings.TrimPrefix(jsonStr, "```json")
	jsonStr = strings.TrimPrefix(jsonStr, "```")
	jsonStr = strings.TrimSuffix(jsonStr, "```")

	var result Extraction
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}
	return &result, nil
}

func knownGeoNames(ref *models.ReferenceData) []string {
	names := make([]string, 0, len(ref.GeoGroups))
	for name := range ref.GeoGroups {
		names = append(names, name)
	}
	return names
}
