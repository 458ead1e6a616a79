package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini is a Provider backed by the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, s Settings) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if s.HTTPClient != nil {
		cfg.HTTPClient = s.HTTPClient
	}
	if s.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := s.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model, temperature: s.Temperature}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

// CreateAgent binds a system prompt and response schema to the model.
func (g *Gemini) CreateAgent(schema *Schema, systemPrompt string) Agent {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(schema),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if g.temperature > 0 {
		config.Temperature = genai.Ptr(g.temperature)
	}
	return &geminiAgent{g: g, config: config}
}

type geminiAgent struct {
	g      *Gemini
	config *genai.GenerateContentConfig
}

func (a *geminiAgent) Run(ctx context.Context, prompt string, out any) error {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := a.g.client.Models.GenerateContent(ctx, a.g.model, contents, a.config)
	if err != nil {
		return fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return fmt.Errorf("gemini generate: empty response from model")
	}
	return DecodeJSON(text, out)
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
		out.PropertyOrdering = s.Required
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

func genaiType(t SchemaType) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeNumber:
		return genai.TypeNumber
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
