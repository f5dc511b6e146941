package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT3Dot5Turbo

// DefaultTimeout bounds a single upstream call when none is configured.
const DefaultTimeout = 60 * time.Second

var (
	// ErrUnavailable wraps every failure to obtain a completion from upstream.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrMissingAPIKey is reported (wrapped in ErrUnavailable) when no credential is configured.
	ErrMissingAPIKey = errors.New("api key not configured")
)

// Completion is a successful upstream reply.
type Completion struct {
	// Payload is the decoded upstream response.
	Payload openai.ChatCompletionResponse
	// Raw is the upstream body exactly as received. Empty when the Client
	// does not go through the capturing transport.
	Raw json.RawMessage
	// Text is the first choice's assistant message.
	Text string
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Gateway sends single-message prompts to an OpenAI-compatible chat endpoint.
// It makes exactly one attempt per call.
type Gateway struct {
	Client  Client
	Model   string
	Timeout time.Duration
	// HasKey is false when the gateway was built without a credential.
	HasKey bool
}

// NewGateway builds a Gateway backed by go-openai.
func NewGateway(cfg GatewayConfig) *Gateway {
	transportCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		transportCfg.BaseURL = cfg.BaseURL
	}
	transportCfg.HTTPClient = withCapture(cfg.HTTPClient)
	g := &Gateway{
		Client:  &OpenAIProvider{Inner: openai.NewClientWithConfig(transportCfg)},
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		HasKey:  strings.TrimSpace(cfg.APIKey) != "",
	}
	return g
}

// Complete sends prompt as the only user message and returns the reply.
// All failures are wrapped in ErrUnavailable.
func (g *Gateway) Complete(ctx context.Context, prompt string) (Completion, error) {
	if !g.HasKey {
		return Completion{}, fmt.Errorf("%w: %w", ErrUnavailable, ErrMissingAPIKey)
	}
	model := g.Model
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	raw := &rawBody{}
	ctx = withRawBody(ctx, raw)

	resp, err := g.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %s", ErrUnavailable, describe(err))
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: completion has no choices", ErrUnavailable)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Completion{}, fmt.Errorf("%w: completion has empty content", ErrUnavailable)
	}
	return Completion{Payload: resp, Raw: raw.data, Text: text}, nil
}

// describe renders upstream errors with their HTTP status when one is known.
func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
