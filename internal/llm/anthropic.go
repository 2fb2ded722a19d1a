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
	AnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
)

type AnthropicOption func(*AnthropicProvider)

// AnthropicProvider calls the Messages API without streaming.
type AnthropicProvider struct {
	apiKey     string
	endpoint   string
	httpClient HTTPDoer
}

var _ Provider = (*AnthropicProvider)(nil)

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   AnthropicEndpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func WithAnthropicEndpoint(endpoint string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			p.endpoint = trimmed
		}
	}
}

func WithAnthropicHTTPClient(client HTTPDoer) AnthropicOption {
	return func(p *AnthropicProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("model is required")
	}
	if req.MaxTokens <= 0 {
		return Response{}, errors.New("max tokens must be greater than zero")
	}

	system := req.System
	if req.Schema != nil {
		schemaJSON, err := json.Marshal(req.Schema.Schema)
		if err != nil {
			return Response{}, fmt.Errorf("marshal schema: %w", err)
		}
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else. It must validate against this JSON Schema:\n" + string(schemaJSON))
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		case RoleUser, RoleAssistant:
			messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
		default:
			return Response{}, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}
	if len(messages) == 0 {
		return Response{}, errors.New("at least one non-system message is required")
	}

	temperature := req.Temperature
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: &temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, transportError("anthropic", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		var parsed anthropicErrorEnvelope
		if json.Unmarshal(raw, &parsed) == nil && strings.TrimSpace(parsed.Error.Message) != "" {
			message = parsed.Error.Message
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return Response{}, &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: message}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	var builder strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	content := builder.String()
	if strings.TrimSpace(content) == "" {
		return Response{}, fmt.Errorf("anthropic response contained no text: %w", ErrEmptyResponse)
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = req.Model
	}
	return Response{
		Content:    content,
		Model:      modelName,
		StopReason: parsed.StopReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anthropicErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
