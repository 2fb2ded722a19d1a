package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

var _ Provider = (*GeminiProvider)(nil)

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Client exposes the SDK client so speech features can share it.
func (p *GeminiProvider) Client() *genai.Client {
	return p.client
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("model is required")
	}

	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			return Response{}, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}
	if len(contents) == 0 {
		return Response{}, errors.New("at least one non-system message is required")
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = req.Schema.Schema
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, transportError("gemini", err)
		}
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("gemini returned no candidates: %w", ErrEmptyResponse)
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			builder.WriteString(part.Text)
		}
	}
	content := builder.String()
	if strings.TrimSpace(content) == "" {
		return Response{}, fmt.Errorf("gemini returned empty content: %w", ErrEmptyResponse)
	}

	out := Response{
		Content:    content,
		Model:      req.Model,
		StopReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
