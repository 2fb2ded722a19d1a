// Package llm talks to hosted chat models behind one Provider interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Provider completes one chat request.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// HTTPDoer allows tests to fake HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// JSONSchema asks the provider for structured output matching Schema.
type JSONSchema struct {
	Name   string
	Schema map[string]any
}

type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Schema      *JSONSchema
}

type Response struct {
	Content    string
	Model      string
	StopReason string
	Usage      Usage
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrEmptyResponse = errors.New("empty response")
	ErrRefusal       = errors.New("model refused")
	ErrMissingAPIKey = errors.New("api key is required")
	ErrTimeout       = errors.New("llm call timed out")
)

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// Retryable reports whether a second attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Permanent reports whether the provider rejected the request itself, so
// sending it again cannot help. Errors raised after a successful call, such
// as an unparsable answer, are never permanent.
func Permanent(err error) bool {
	if errors.Is(err, ErrMissingAPIKey) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !Retryable(err)
}

func transportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
