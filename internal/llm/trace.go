package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tetraminz/consultation_x/internal/llm"

type tracedProvider struct {
	name   string
	next   Provider
	tracer trace.Tracer
}

// Traced wraps p so every completion runs inside a span.
func Traced(name string, p Provider) Provider {
	if p == nil {
		return nil
	}
	if already, ok := p.(*tracedProvider); ok {
		return already
	}
	return &tracedProvider{name: name, next: p, tracer: otel.Tracer(tracerName)}
}

func (t *tracedProvider) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := t.tracer.Start(ctx, "llm.Complete", trace.WithAttributes(
		attribute.String("llm.provider", t.name),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Bool("llm.structured", req.Schema != nil),
	))
	defer span.End()

	resp, err := t.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(
		attribute.Int64("llm.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("llm.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.String("llm.stop_reason", resp.StopReason),
	)
	return resp, nil
}
