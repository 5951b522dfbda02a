package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/movies"
)

const DefaultModel = "gemini-1.5-flash"

type Client struct {
	client    *genai.Client
	modelName string
}

// NewClient connects to the Gemini API. An empty model selects DefaultModel.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client, modelName: model}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			logger.Warn("Failed to close Gemini client", "error", err)
		}
	}
}

// responseSchema mirrors extract.Extraction.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":    {Type: genai.TypeString},
		"cast":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"director": {Type: genai.TypeString},
		"genre":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"synopsis": {Type: genai.TypeString},
		"ott":      {Type: genai.TypeString},
		"score":    {Type: genai.TypeNumber},
	},
	Required: []string{"title", "cast", "genre", "synopsis", "score"},
}

func (c *Client) extractionModel() *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema
	model.SystemInstruction = genai.NewUserContent(genai.Text(extract.SystemPrompt))
	return model
}

// Extract asks the model for the declared schema and parses the reply.
func (c *Client) Extract(ctx context.Context, req extract.Request) (extract.Extraction, error) {
	resp, err := c.extractionModel().GenerateContent(ctx, genai.Text(extract.Prompt(req)))
	if err != nil {
		return extract.Extraction{}, fmt.Errorf("%w: gemini generate: %v", extract.ErrExtraction, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return extract.Extraction{}, err
	}
	return extract.Parse(text)
}

// Summarize writes the weekly overview.
func (c *Client) Summarize(ctx context.Context, picks []movies.EnrichedItem) (string, error) {
	return c.generateText(ctx, extract.SummaryPrompt(picks), 0.7)
}

// Review writes the critic review of the title of the week.
func (c *Client) Review(ctx context.Context, item movies.EnrichedItem) (string, error) {
	return c.generateText(ctx, extract.ReviewPrompt(item), 0.7)
}

func (c *Client) generateText(ctx context.Context, prompt string, temperature float32) (string, error) {
	model := c.client.GenerativeModel(c.modelName)
	model.SetTemperature(temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", extract.ErrExtraction, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return extract.SanitizeText(text), nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no response from Gemini", extract.ErrExtraction)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty Gemini candidate (finish reason %v)", extract.ErrExtraction, cand.FinishReason)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: Gemini returned no text", extract.ErrExtraction)
	}
	return text, nil
}
