package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MaxTags bounds the tags attached to one recipe
const MaxTags = 5

// Classifier assigns a category and tags
type Classifier struct {
	chat *ChatClient
}

func NewClassifier(chat *ChatClient) *Classifier {
	return &Classifier{chat: chat}
}

func (c *Classifier) Classify(ctx context.Context, draft *types.RecipeDraft) (*types.Classification, error) {
	out, err := c.chat.Complete(ctx, classifySystemPrompt, describeDraft(draft), 0.1)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("categorization", err)
	}
	return parseClassification(out)
}

func parseClassification(raw string) (*types.Classification, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("categorization", err)
	}
	var r types.Classification
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, apperrors.NewExternalServiceError("categorization", fmt.Errorf("decode classification: %w", err))
	}
	r.Category = strings.TrimSpace(r.Category)
	if r.Category == "" {
		return nil, apperrors.NewExternalServiceError("categorization", errors.New("empty category"))
	}
	r.Tags = normalizeTags(r.Tags)
	return &r, nil
}
