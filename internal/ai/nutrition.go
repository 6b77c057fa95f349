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

var errMalformedNutrition = errors.New("nutrition estimate is not usable")

// NutritionService estimates per-serving nutrition from a title and ingredients
type NutritionService struct {
	chat *ChatClient
}

func NewNutritionService(chat *ChatClient) *NutritionService {
	return &NutritionService{chat: chat}
}

func (s *NutritionService) EstimateNutrition(ctx context.Context, title string, ingredients []string) (*types.Nutrition, error) {
	prompt := fmt.Sprintf("Recipe: %s\nIngredients:\n- %s", title, strings.Join(ingredients, "\n- "))
	out, err := s.chat.Complete(ctx, nutritionSystemPrompt, prompt, 0.1)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("nutrition estimation", err)
	}
	return parseNutrition(out)
}

func parseNutrition(raw string) (*types.Nutrition, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("nutrition estimation", err)
	}
	var n types.Nutrition
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, apperrors.NewExternalServiceError("nutrition estimation", fmt.Errorf("decode nutrition: %w", err))
	}
	if !n.WellFormed() {
		return nil, apperrors.NewExternalServiceError("nutrition estimation", errMalformedNutrition)
	}
	return &n, nil
}
