// Package llm produces assistant replies for caller utterances using the
// OpenAI chat completions API. Each reply is stateless: only the fixed
// system prompt and the current utterance are sent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultSystemPrompt keeps replies speakable: plain words, no markup.
const DefaultSystemPrompt = "You are an extremely helpful call assistant. Provide only letters, numbers and punctuation used in regular speech in your response, no markdown"

var (
	// ErrEmptyPrompt is returned when there is no utterance to answer.
	ErrEmptyPrompt = errors.New("llm: utterance is empty")

	// ErrEmptyReply is returned when the model answers with no content.
	ErrEmptyReply = errors.New("llm: model returned an empty reply")
)

// UpstreamModelError reports a failed chat completion request.
type UpstreamModelError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UpstreamModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: openai returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: openai request failed: %s", e.Message)
}

func (e *UpstreamModelError) Unwrap() error {
	return e.Err
}

// Config configures the responder.
type Config struct {
	APIKey string

	// BaseURL overrides the API root (e.g., a proxy).
	BaseURL string

	// Model defaults to "gpt-4o-mini".
	Model string

	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string

	// MaxTokens caps the reply length. Zero leaves it to the model.
	MaxTokens int

	// Timeout bounds each request. Default: 30s
	Timeout time.Duration

	HTTPClient *http.Client
}

// Responder answers one utterance at a time.
//
// Thread Safety:
// Responder is safe for concurrent use.
type Responder struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// NewResponder creates a Responder.
func NewResponder(cfg Config) (*Responder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	} else {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Responder{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Model returns the configured model name.
func (r *Responder) Model() string {
	return r.model
}

// Reply asks the model to answer text and returns the trimmed reply.
func (r *Responder) Reply(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}

	req := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	}
	if r.maxTokens > 0 {
		req.MaxTokens = r.maxTokens
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// wrapError converts go-openai errors into UpstreamModelError.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &UpstreamModelError{
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamModelError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Err:        err,
		}
	}

	return &UpstreamModelError{Message: err.Error(), Err: err}
}
