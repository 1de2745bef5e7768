package verdict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Narrator turns a prompt into free text. Implementations must honour ctx.
type Narrator interface {
	Query(ctx context.Context, prompt string) (string, error)
}

type NarratorFunc func(ctx context.Context, prompt string) (string, error)

func (f NarratorFunc) Query(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

const systemPrompt = "You explain security scan results to non-experts. Be precise, calm and brief. " +
	"Answer with the sections SUMMARY, TECHNICAL, RECOMMENDATION and SAFETY TIPS, each on its own header line."

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAINarrator talks to any OpenAI-compatible chat completions endpoint.
type OpenAINarrator struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAINarrator(cfg OpenAIConfig) (*OpenAINarrator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("narrator api key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAINarrator{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (o *OpenAINarrator) Query(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: o.cfg.MaxTokens,
		Temperature:         o.cfg.Temperature,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
