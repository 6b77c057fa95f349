// Package ai implements the AI collaborators of the generation pipeline
// over OpenAI-compatible chat and image APIs.
package ai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
)

var errEmptyChoices = errors.New("empty choices in completion response")

// ChatClient sends single-turn chat completions
type ChatClient struct {
	client openai.Client
	model  string
	log    *zap.Logger
}

// NewChatClient builds a client for an OpenAI-compatible endpoint (DeepSeek
// by default). Extra options are appended after key and base URL.
func NewChatClient(ep config.AIEndpoint, log *zap.Logger, extra ...option.RequestOption) *ChatClient {
	opts := []option.RequestOption{option.WithAPIKey(ep.Key)}
	if ep.URL != "" {
		opts = append(opts, option.WithBaseURL(baseURL(ep.URL)))
	}
	opts = append(opts, extra...)
	return &ChatClient{client: openai.NewClient(opts...), model: ep.Model, log: log}
}

// baseURL makes relative API paths resolve under the configured path
func baseURL(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// Complete returns the assistant message for one system and user prompt.
func (c *ChatClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyChoices
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.log.Debug("completion received", zap.String("model", c.model), zap.Int("chars", len(content)))
	return content, nil
}

// TextGenerator produces raw recipe text
type TextGenerator struct {
	chat *ChatClient
}

func NewTextGenerator(chat *ChatClient) *TextGenerator {
	return &TextGenerator{chat: chat}
}

// GenerateText asks for a recipe as a JSON object
func (g *TextGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	out, err := g.chat.Complete(ctx, recipeSystemPrompt, prompt, 0.9)
	if err != nil {
		return "", apperrors.NewExternalServiceError("text generation", err)
	}
	return out, nil
}
