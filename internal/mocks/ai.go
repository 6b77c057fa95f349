package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MockTextGenerator is a mock implementation of the text generation client
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// MockImageGenerator is a mock implementation of the image generation client
type MockImageGenerator struct {
	mock.Mock
}

func (m *MockImageGenerator) GenerateImage(ctx context.Context, prompt, tier string) (string, error) {
	args := m.Called(ctx, prompt, tier)
	return args.String(0), args.Error(1)
}

// MockQualityEvaluator is a mock implementation of the quality scorer
type MockQualityEvaluator struct {
	mock.Mock
}

func (m *MockQualityEvaluator) EvaluateQuality(ctx context.Context, draft *types.RecipeDraft) (*types.QualityAssessment, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.QualityAssessment), args.Error(1)
}

// MockClassifier is a mock implementation of the recipe classifier
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, draft *types.RecipeDraft) (*types.Classification, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Classification), args.Error(1)
}

// MockNutritionEstimator is a mock implementation of the nutrition estimator
type MockNutritionEstimator struct {
	mock.Mock
}

func (m *MockNutritionEstimator) EstimateNutrition(ctx context.Context, title string, ingredients []string) (*types.Nutrition, error) {
	args := m.Called(ctx, title, ingredients)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Nutrition), args.Error(1)
}
