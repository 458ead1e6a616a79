package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	openAIDefaultTimeout   = 60 * time.Second
	openAIRetryAttempts    = 3
	openAIRetryBaseDelay   = time.Second
	openAIRetryMaxDelay    = 10 * time.Second
	openAIMaxResponseBytes = 4 << 20
)

// OpenAI is a Provider backed by any OpenAI-compatible chat completions API.
type OpenAI struct {
	apiKey      string
	model       string
	endpoint    string
	temperature float32
	httpClient  *http.Client
	backoff     func() retry.Backoff
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(s Settings) *OpenAI {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = DefaultOpenAIBaseURL
	}
	model := s.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	hc := s.HTTPClient
	if hc == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = openAIDefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &OpenAI{
		apiKey:      strings.TrimSpace(s.APIKey),
		model:       model,
		endpoint:    base + "/chat/completions",
		temperature: s.Temperature,
		httpClient:  hc,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(openAIRetryBaseDelay)
			b = retry.WithCappedDuration(openAIRetryMaxDelay, b)
			return retry.WithMaxRetries(openAIRetryAttempts-1, b)
		},
	}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

// CreateAgent binds a system prompt and response schema. The schema is sent
// in the system message and JSON mode is requested.
func (o *OpenAI) CreateAgent(schema *Schema, systemPrompt string) Agent {
	system := systemPrompt
	if schema != nil {
		encoded, err := json.Marshal(schema)
		if err == nil {
			system = strings.TrimSpace(system + "\n\nRespond only with a JSON object matching this JSON schema:\n" + string(encoded))
		}
	}
	return &openAIAgent{o: o, system: system}
}

type openAIAgent struct {
	o      *OpenAI
	system string
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIStatusError struct {
	StatusCode int
	Body       string
}

func (e *openAIStatusError) Error() string {
	return fmt.Sprintf("openai: http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIStatusError) retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

func (a *openAIAgent) Run(ctx context.Context, prompt string, out any) error {
	payload := chatRequest{
		Model: a.o.model,
		Messages: []chatMessage{
			{Role: "system", Content: a.system},
			{Role: "user", Content: prompt},
		},
		Temperature:    a.o.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: encode request: %w", err)
	}

	var content string
	err = retry.Do(ctx, a.o.backoff(), func(ctx context.Context) error {
		text, err := a.send(ctx, body)
		if err != nil {
			var se *openAIStatusError
			if errors.As(err, &se) && !se.retryable() {
				return err
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return retry.RetryableError(err)
		}
		content = text
		return nil
	})
	if err != nil {
		return err
	}
	return DecodeJSON(content, out)
}

func (a *openAIAgent) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, openAIMaxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("openai: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &openAIStatusError{StatusCode: resp.StatusCode, Body: snippet(strings.TrimSpace(string(raw)))}
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("openai: api error: %s", completion.Error.Message)
	}
	for _, choice := range completion.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
		if choice.Message.Refusal != "" {
			return "", fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
		}
	}
	return "", fmt.Errorf("openai: empty completion")
}
