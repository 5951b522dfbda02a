// Package openai is the OpenAI-compatible extraction provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/movies"
)

const DefaultModel = openai.GPT4oMini

type Client struct {
	client *openai.Client
	model  string
}

// NewClient builds a client. baseURL is optional and points the client at any
// OpenAI-compatible endpoint.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *Client) Name() string { return "openai" }

// Extract requests a JSON object response and parses it.
func (c *Client) Extract(ctx context.Context, req extract.Request) (extract.Extraction, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extract.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: extract.Prompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature:         0.2,
		MaxCompletionTokens: 800,
	})
	if err != nil {
		return extract.Extraction{}, fmt.Errorf("%w: openai chat completion: %v", extract.ErrExtraction, err)
	}
	text, err := firstChoice(resp)
	if err != nil {
		return extract.Extraction{}, err
	}
	return extract.Parse(text)
}

// Summarize writes the weekly overview.
func (c *Client) Summarize(ctx context.Context, picks []movies.EnrichedItem) (string, error) {
	return c.complete(ctx, extract.SummaryPrompt(picks))
}

// Review writes the critic review of the title of the week.
func (c *Client) Review(ctx context.Context, item movies.EnrichedItem) (string, error) {
	return c.complete(ctx, extract.ReviewPrompt(item))
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:         0.7,
		MaxCompletionTokens: 400,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai chat completion: %v", extract.ErrExtraction, err)
	}
	text, err := firstChoice(resp)
	if err != nil {
		return "", err
	}
	return extract.SanitizeText(text), nil
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response from OpenAI", extract.ErrExtraction)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty OpenAI response", extract.ErrExtraction)
	}
	return text, nil
}
