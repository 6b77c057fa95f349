package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MockDuplicateDetector is a mock implementation of the duplicate detector
type MockDuplicateDetector struct {
	mock.Mock
}

func (m *MockDuplicateDetector) FindDuplicate(ctx context.Context, draft *types.RecipeDraft) (types.DuplicateResult, error) {
	args := m.Called(ctx, draft)
	return args.Get(0).(types.DuplicateResult), args.Error(1)
}

func (m *MockDuplicateDetector) Merge(ctx context.Context, incoming *types.RecipeDraft, existingID string) (*types.RecipeDraft, error) {
	args := m.Called(ctx, incoming, existingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.RecipeDraft), args.Error(1)
}
