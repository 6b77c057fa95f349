package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MockRecipeRepository is a mock implementation of the recipe repository
type MockRecipeRepository struct {
	mock.Mock
}

// Save mocks the Save method
func (m *MockRecipeRepository) Save(ctx context.Context, draft *types.RecipeDraft, owner *uuid.UUID) (*types.RecipeDraft, error) {
	args := m.Called(ctx, draft, owner)
	if fn, ok := args.Get(0).(func(context.Context, *types.RecipeDraft, *uuid.UUID) *types.RecipeDraft); ok {
		return fn(ctx, draft, owner), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.RecipeDraft), args.Error(1)
}

// Update mocks the Update method
func (m *MockRecipeRepository) Update(ctx context.Context, draft *types.RecipeDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *MockRecipeRepository) FindByID(ctx context.Context, id string) (*types.RecipeDraft, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.RecipeDraft), args.Error(1)
}

// FindSimilar mocks the FindSimilar method
func (m *MockRecipeRepository) FindSimilar(ctx context.Context, fp dedupe.Fingerprint) ([]*types.RecipeDraft, error) {
	args := m.Called(ctx, fp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.RecipeDraft), args.Error(1)
}

// ListGlobal mocks the ListGlobal method
func (m *MockRecipeRepository) ListGlobal(ctx context.Context, offset, limit int) ([]*types.RecipeDraft, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.RecipeDraft), args.Error(1)
}

// Delete mocks the Delete method
func (m *MockRecipeRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
