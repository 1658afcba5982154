package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"legalmind/internal/domain"
	"legalmind/internal/infra/tracer"
)

const (
	// maxResponseBody caps how much of a provider reply is read.
	maxResponseBody = 10 << 20
	// maxErrorDetail caps the provider text carried in an error.
	maxErrorDetail = 512
)

// observeChat runs one provider call inside an "llm.chat" span and logs its
// outcome. Every provider funnels through it so spans and logs line up.
func observeChat(ctx context.Context, logger *slog.Logger, provider string, req domain.ChatRequest,
	call func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error),
) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat", trace.WithAttributes(
		tracer.StringAttr("llm.provider", provider),
		tracer.StringAttr("llm.model", req.Model),
		tracer.IntAttr("llm.messages", len(req.Messages)),
	))
	defer span.End()

	start := time.Now()
	resp, err := call(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Debug("llm chat failed", "provider", provider, "model", req.Model, "elapsed", elapsed, "error", err)
		return nil, err
	}

	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	logger.Debug("llm chat completed",
		"provider", provider,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"elapsed", elapsed,
	)
	return resp, nil
}

// postJSON posts in as JSON and decodes a 200 reply into out. Non-200 replies
// become domain errors via mapHTTPError.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrProviderError, err)
	}
	return nil
}

// mapHTTPError turns a failed provider reply into a domain error that the
// breaker and the retry executor can classify. The detail keeps the
// "API error <status>:" prefix those classifiers match on.
func mapHTTPError(status int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", status, errorText(body))
	return fmt.Errorf("%w: %s", statusSentinel(status), detail)
}

func statusSentinel(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrAuthInvalid
	case status == http.StatusRequestEntityTooLarge:
		return domain.ErrContextOverflow
	case status >= 500:
		return domain.ErrUpstream
	default:
		return domain.ErrProviderError
	}
}

// errorText prefers the OpenAI-style {"error":{"message":...}} field and
// falls back to the raw body, truncated.
func errorText(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	text := string(body)
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		text = envelope.Error.Message
	}
	if len(text) > maxErrorDetail {
		text = text[:maxErrorDetail] + "..."
	}
	return text
}
