// Package llm abstracts structured text generation behind a Provider that
// creates schema-bound Agents. Backends: Gemini and OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	// DefaultGeminiModel is used when no model is configured for Gemini.
	DefaultGeminiModel = "gemini-flash-lite-latest"
	// DefaultOpenAIModel is used when no model is configured for OpenAI.
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL points at the public OpenAI API.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// ErrDisabled is returned by agents of the "none" provider.
var ErrDisabled = errors.New("text generation disabled")

// SchemaType names a JSON schema type.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
)

// Schema describes the structured output an Agent must produce.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// Object builds an object schema requiring every listed property.
func Object(props map[string]*Schema) *Schema {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	slices.Sort(required)
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// String builds a string schema.
func String(desc string) *Schema {
	return &Schema{Type: TypeString, Description: desc}
}

// Bool builds a boolean schema.
func Bool(desc string) *Schema {
	return &Schema{Type: TypeBoolean, Description: desc}
}

// Number builds a bounded number schema.
func Number(desc string, lo, hi float64) *Schema {
	return &Schema{Type: TypeNumber, Description: desc, Minimum: &lo, Maximum: &hi}
}

// Integer builds a bounded integer schema.
func Integer(desc string, lo, hi float64) *Schema {
	return &Schema{Type: TypeInteger, Description: desc, Minimum: &lo, Maximum: &hi}
}

// StringList builds an array-of-strings schema.
func StringList(desc string) *Schema {
	return &Schema{Type: TypeArray, Description: desc, Items: &Schema{Type: TypeString}}
}

// Agent runs prompts against a fixed system prompt and output schema.
type Agent interface {
	// Run sends prompt and decodes the structured response into out.
	Run(ctx context.Context, prompt string, out any) error
}

// Provider creates agents for one backend.
type Provider interface {
	Name() string
	CreateAgent(schema *Schema, systemPrompt string) Agent
}

// Settings selects and configures a backend.
type Settings struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// NewProvider builds the backend named in s.Provider.
func NewProvider(ctx context.Context, s Settings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderGemini, "":
		if s.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
		}
		return NewGemini(ctx, s)
	case ProviderOpenAI:
		if s.APIKey == "" {
			return nil, fmt.Errorf("openai API key is required. Set OPENAI_API_KEY environment variable or ai.openai.api_key in config file")
		}
		return NewOpenAI(s), nil
	case ProviderNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q (supported: gemini, openai, none)", s.Provider)
	}
}

// Disabled is a Provider whose agents always fail with ErrDisabled, so every
// component falls back to its non-AI behaviour.
type Disabled struct{}

func (Disabled) Name() string { return ProviderNone }

func (Disabled) CreateAgent(*Schema, string) Agent { return disabledAgent{} }

type disabledAgent struct{}

func (disabledAgent) Run(context.Context, string, any) error { return ErrDisabled }

// Metered wraps a Provider and counts agent runs.
type Metered struct {
	inner  Provider
	calls  atomic.Int64
	errors atomic.Int64
}

// NewMetered wraps p.
func NewMetered(p Provider) *Metered {
	return &Metered{inner: p}
}

func (m *Metered) Name() string { return m.inner.Name() }

// CreateAgent returns an agent whose runs are counted.
func (m *Metered) CreateAgent(schema *Schema, systemPrompt string) Agent {
	return &meteredAgent{inner: m.inner.CreateAgent(schema, systemPrompt), m: m}
}

// Calls returns the number of agent runs so far.
func (m *Metered) Calls() int64 { return m.calls.Load() }

// Errors returns the number of failed agent runs so far.
func (m *Metered) Errors() int64 { return m.errors.Load() }

type meteredAgent struct {
	inner Agent
	m     *Metered
}

func (a *meteredAgent) Run(ctx context.Context, prompt string, out any) error {
	if _, disabled := a.inner.(disabledAgent); disabled {
		return ErrDisabled
	}
	a.m.calls.Add(1)
	err := a.inner.Run(ctx, prompt, out)
	if err != nil {
		a.m.errors.Add(1)
	}
	return err
}

// DecodeJSON decodes a model response into out, tolerating markdown code
// fences and leading prose around the JSON object.
func DecodeJSON(raw string, out any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response: %q", snippet(text))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
