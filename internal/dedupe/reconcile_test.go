package dedupe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/mocks"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

func TestReconcilerMergesIntoOldest(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MockRecipeRepository)

	oldest := draft("Vegetarian Lasagna", "noodles", "ricotta", "spinach")
	oldest.Tags = []string{"vegetarian"}
	dup := draft("vegetarian lasagna", "spinach", "ricotta", "noodles")
	dup.Tags = []string{"comfort"}
	other := draft("Miso Soup", "miso", "tofu")

	repo.On("ListGlobal", ctx, 0, 2).Return([]*types.RecipeDraft{oldest, dup}, nil)
	repo.On("ListGlobal", ctx, 2, 2).Return([]*types.RecipeDraft{other}, nil)
	repo.On("Update", ctx, mock.MatchedBy(func(d *types.RecipeDraft) bool {
		return d.ID == oldest.ID && assert.ObjectsAreEqual([]string{"vegetarian", "comfort"}, d.Tags)
	})).Return(nil).Once()
	repo.On("Delete", ctx, dup.ID).Return(nil).Once()

	report, err := dedupe.NewReconciler(repo, zap.NewNop(), 2).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Merged)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, oldest.ID, report.Pairs[0].KeptID)
	assert.Equal(t, dup.ID, report.Pairs[0].RemovedID)
	assert.Equal(t, 1.0, report.Pairs[0].Score)
	repo.AssertExpectations(t)
}

func TestReconcilerDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MockRecipeRepository)

	a := draft("Pancakes", "flour", "eggs", "milk")
	b := draft("Pancakes", "milk", "flour", "eggs")
	repo.On("ListGlobal", ctx, 0, 200).Return([]*types.RecipeDraft{a, b}, nil)

	report, err := dedupe.NewReconciler(repo, zap.NewNop(), 0).Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Merged)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestReconcilerKeepsDistinctRecipes(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MockRecipeRepository)

	a := draft("Pancakes", "flour", "eggs", "milk", "butter")
	b := draft("Pancakes", "flour", "eggs", "buttermilk", "sugar")
	repo.On("ListGlobal", ctx, 0, 200).Return([]*types.RecipeDraft{a, b}, nil)

	report, err := dedupe.NewReconciler(repo, zap.NewNop(), 200).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Merged)
	assert.Empty(t, report.Pairs)
}
