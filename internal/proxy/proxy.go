// Package proxy issues completion calls against OpenAI-compatible
// inference backends and relays streamed deltas to the caller. It is the
// only layer that raises taxonomy errors; routing itself never fails.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"llm-gateway/pkg/apierr"
	"llm-gateway/pkg/models"
)

// Router resolves models to backend URLs and probes backend health. The
// model registry satisfies it.
type Router interface {
	ResolveBackend(ctx context.Context, modelID string) string
	CheckHealth(ctx context.Context, backendURL string) bool
}

// Service performs completion calls. No retries happen here; a failed
// call surfaces immediately and retry policy stays with the caller.
type Service struct {
	router Router

	// client serves non-streaming calls with an overall deadline.
	client *http.Client
	// streamClient has no overall deadline; streams end when the backend
	// closes or errors. Response headers must still arrive promptly.
	streamClient *http.Client
}

// NewService builds a proxy over the given router.
func NewService(router Router) *Service {
	return &Service{
		router: router,
		client: &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second},
		},
	}
}

// completionRequest is the chat-completion payload sent to a backend.
type completionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	TopP        float64              `json:"top_p"`
	Stream      bool                 `json:"stream"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
	Stop        []string             `json:"stop,omitempty"`
}

// CompletionResult is a non-streaming generation outcome.
type CompletionResult struct {
	// Content is the first choice's message content; may be empty, in
	// which case the caller substitutes its placeholder.
	Content string
	// ExpertUsage carries per-expert activation counts when the backend
	// reports them, for the telemetry publish.
	ExpertUsage map[string]int
}

func (s *Service) buildRequest(modelID string, messages []models.ChatMessage, params models.GenerationParams, stream bool) completionRequest {
	temperature, topP := params.Resolved()
	return completionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: temperature,
		TopP:        topP,
		Stream:      stream,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
}

// Generate performs a non-streaming completion call and extracts the
// first choice's content.
func (s *Service) Generate(ctx context.Context, modelID string, messages []models.ChatMessage, params models.GenerationParams) (CompletionResult, error) {
	backendURL := s.router.ResolveBackend(ctx, modelID)

	body, err := json.Marshal(s.buildRequest(modelID, messages, params, false))
	if err != nil {
		return CompletionResult{}, apierr.Internal("failed to build completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, apierr.Internal("failed to build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("completion call to %s failed: %v", backendURL, err)
		return CompletionResult{}, apierr.ServiceUnavailable("model service is unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("completion call to %s returned %s", backendURL, resp.Status)
		return CompletionResult{}, apierr.ServiceUnavailable("model service is unavailable", fmt.Errorf("backend returned %s", resp.Status))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		ExpertInfo struct {
			Usage map[string]int `json:"usage"`
		} `json:"expert_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return CompletionResult{}, apierr.Internal("model service returned an unreadable response", err)
	}

	result := CompletionResult{ExpertUsage: payload.ExpertInfo.Usage}
	if len(payload.Choices) > 0 {
		result.Content = payload.Choices[0].Message.Content
	}
	return result, nil
}

// GenerateStream performs a streaming completion call, invoking yield for
// every non-empty content delta in arrival order. The backend's health
// endpoint is probed before the stream is opened; a failed probe raises
// ServiceUnavailable without attempting the SSE connection. A yield error
// (typically the caller's connection closing) aborts the read and is
// returned as-is.
func (s *Service) GenerateStream(ctx context.Context, modelID string, messages []models.ChatMessage, params models.GenerationParams, yield func(fragment string) error) error {
	backendURL := s.router.ResolveBackend(ctx, modelID)

	if !s.router.CheckHealth(ctx, backendURL) {
		return apierr.ServiceUnavailable("model service failed its health check", nil)
	}

	body, err := json.Marshal(s.buildRequest(modelID, messages, params, true))
	if err != nil {
		return apierr.Internal("failed to build completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return apierr.Internal("failed to build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return classifyTransportError(backendURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("streaming call to %s returned %s", backendURL, resp.Status)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return apierr.NotFound("the requested model does not exist")
		case http.StatusServiceUnavailable:
			return apierr.ServiceUnavailable("model service is temporarily unavailable", nil)
		default:
			return apierr.Internal("model service returned an error", fmt.Errorf("backend returned %s", resp.Status))
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		fragment, done := processStreamLine(scanner.Text())
		if done {
			return nil
		}
		if fragment == "" {
			continue
		}
		if err := yield(fragment); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return classifyTransportError(backendURL, err)
	}
	return nil
}

// processStreamLine extracts the content delta from one SSE line. done is
// true on the [DONE] sentinel. Malformed JSON is logged and skipped; one
// bad chunk must not abort the rest of the stream.
func processStreamLine(line string) (fragment string, done bool) {
	if line == "" {
		return "", false
	}
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return "", true
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		log.Printf("skipping malformed stream chunk: %v", err)
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, false
}

// classifyTransportError maps a transport failure to the most specific
// taxonomy member: timeouts are gateway timeouts, everything else means
// the backend is unreachable.
func classifyTransportError(backendURL string, err error) error {
	log.Printf("streaming transport error from %s: %v", backendURL, err)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.GatewayTimeout("model service timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.GatewayTimeout("model service timed out", err)
	}
	return apierr.ServiceUnavailable("could not connect to the model service", err)
}
