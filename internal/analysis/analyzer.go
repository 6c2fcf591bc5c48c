package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Result captures the model's judgement about one article.
type Result struct {
	Sentiment string         `json:"sentiment"`
	Score     float32        `json:"score"`
	Entities  []EntityResult `json:"entities"`
}

// EntityResult is one named entity found in the text.
type EntityResult struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Analyzer abstracts AI powered enrichment.
type Analyzer interface {
	Evaluate(ctx context.Context, article ArticleContext) (Result, error)
	Ready() bool
}

// ArticleContext contains the fields passed to the model.
type ArticleContext struct {
	Title string
	Body  string
	URL   string
}

var errDisabled = errors.New("openai client disabled: missing api key")

const systemPrompt = `You are a news analysis assistant. Given an article, extract the named entities it mentions and judge its overall sentiment.

Return ONLY a JSON object, no surrounding text, with fields:
- "sentiment": one of "positive", "negative", "neutral".
- "score": a number between -1.0 and 1.0 matching the sentiment.
- "entities": an array of {"name": string, "type": string} where type is one of "PERSON", "ORG", "LOCATION", "EVENT", "OTHER". Deduplicate entities and keep at most 15.`

// Client implements Analyzer using the OpenAI chat completion API.
type Client struct {
	client    *openai.Client
	model     string
	logger    *slog.Logger
	activated bool
}

// NewClient builds a new Analyzer. If apiKey is empty, Evaluate fails
// fast with a disabled error and Ready reports false.
func NewClient(apiKey, model, baseURL string, logger *slog.Logger) *Client {
	var cli *openai.Client
	activated := apiKey != ""
	if activated {
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		cli = openai.NewClientWithConfig(cfg)
	}
	return &Client{
		client:    cli,
		model:     model,
		logger:    logger.With("component", "analysis"),
		activated: activated,
	}
}

// Ready indicates whether the analyzer is usable.
func (c *Client) Ready() bool {
	return c.activated && c.client != nil
}

// Evaluate asks the model for entities and sentiment.
func (c *Client) Evaluate(ctx context.Context, article ArticleContext) (Result, error) {
	if !c.Ready() {
		return Result{}, errDisabled
	}

	userPrompt := fmt.Sprintf("Title: %s\nURL: %s\nBody:\n%s\nOutput JSON.",
		article.Title,
		article.URL,
		trimText(article.Body, 4000),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("no choices returned by model")
	}

	content := cleanupResponse(resp.Choices[0].Message.Content)
	var out Result
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		c.logger.Warn("failed to parse model response", "content", content, "error", err)
		return Result{}, fmt.Errorf("parse model response: %w", err)
	}

	return out, nil
}

// cleanupResponse strips markdown code fences some models wrap JSON in.
func cleanupResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func trimText(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
