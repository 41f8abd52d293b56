// Package llm streams model-generated text for narration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// TokenEvent is one element of the generation stream: a text delta, the
// terminal done marker, or a stream error.
type TokenEvent struct {
	Delta string
	Done  bool
	Err   error
}

// ClientConfig configures the streaming chat client. BaseURL allows pointing
// at any OpenAI-compatible server, including self-hosted ones.
type ClientConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Model:        openai.GPT4oMini,
		SystemPrompt: "あなたは音声で読み上げられるアシスタントです。短い文で答えてください。",
		Timeout:      120 * time.Second,
	}
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	api    *openai.Client
	config *ClientConfig
	logger zerolog.Logger
}

// NewClient creates a streaming chat client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		config: cfg,
		logger: logger.With().Str("component", "llm-client").Logger(),
	}, nil
}

// StreamChat opens a completion stream for the prompt and forwards each text
// delta in arrival order. The channel is closed after the terminal event
// (Done or Err). Cancelling ctx aborts the stream.
func (c *Client) StreamChat(ctx context.Context, prompt string) (<-chan TokenEvent, error) {
	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.config.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	ch := make(chan TokenEvent, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					ch <- TokenEvent{Done: true}
					return
				}
				ch <- TokenEvent{Err: err}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case ch <- TokenEvent{Delta: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
