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
)

const (
	OpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	GroqEndpoint   = "https://api.groq.com/openai/v1/chat/completions"
)

type OpenAIOption func(*OpenAIProvider)

// OpenAIProvider calls any OpenAI-compatible Chat Completions endpoint.
// Groq is served by the same wire format.
type OpenAIProvider struct {
	name       string
	apiKey     string
	endpoint   string
	httpClient HTTPDoer
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		name:       "openai",
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   OpenAIEndpoint,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// NewGroqProvider targets Groq's OpenAI-compatible endpoint.
func NewGroqProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	base := []OpenAIOption{WithOpenAIEndpoint(GroqEndpoint), withOpenAIName("groq")}
	return NewOpenAIProvider(apiKey, append(base, opts...)...)
}

func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			p.endpoint = trimmed
		}
	}
}

func WithOpenAIHTTPClient(client HTTPDoer) OpenAIOption {
	return func(p *OpenAIProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func withOpenAIName(name string) OpenAIOption {
	return func(p *OpenAIProvider) { p.name = name }
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, fmt.Errorf("%s: %w", p.name, ErrMissingAPIKey)
	}
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("model is required")
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(messages) == 0 {
		return Response{}, errors.New("at least one message is required")
	}

	temperature := req.Temperature
	payload := chatCompletionsRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: &temperature,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.Schema != nil {
		payload.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: responseJSONSchema{
				Name:   req.Schema.Name,
				Strict: true,
				Schema: req.Schema.Schema,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s request: %w", p.name, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+p.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return Response{}, transportError(p.name, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read %s response: %w", p.name, err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(raw))
		var apiErr openAIErrorEnvelope
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return Response{}, &StatusError{Provider: p.name, StatusCode: response.StatusCode, Message: message}
	}

	var parsed chatCompletionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", p.name, err)
	}
	if parsed.Error.Message != "" {
		return Response{}, fmt.Errorf("%s error: %s", p.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%s returned no choices: %w", p.name, ErrEmptyResponse)
	}

	choice := parsed.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return Response{}, fmt.Errorf("%s: %w: %s", p.name, ErrRefusal, refusal)
	}

	content, err := parseMessageContent(choice.Message.Content)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Response{}, fmt.Errorf("%s returned empty content: %w", p.name, ErrEmptyResponse)
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = req.Model
	}
	return Response{
		Content:    content,
		Model:      modelName,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func parseMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var asParts []responseContentPart
	if err := json.Unmarshal(raw, &asParts); err == nil {
		var builder strings.Builder
		for _, part := range asParts {
			if part.Type == "text" {
				builder.WriteString(part.Text)
			}
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("unsupported message content format: %s", string(raw))
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string             `json:"type"`
	JSONSchema responseJSONSchema `json:"json_schema"`
}

type responseJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatCompletionsResponse struct {
	Model   string              `json:"model"`
	Choices []chatChoice        `json:"choices"`
	Usage   chatUsage           `json:"usage"`
	Error   openAIErrorResponse `json:"error"`
}

type chatChoice struct {
	Message      chatMessageResponse `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatMessageResponse struct {
	Content json.RawMessage `json:"content"`
	Refusal string          `json:"refusal"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type responseContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIErrorEnvelope struct {
	Error openAIErrorResponse `json:"error"`
}

type openAIErrorResponse struct {
	Message string `json:"message"`
}
