package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, tier string) (string, error)
}

type QualityEvaluator interface {
	EvaluateQuality(ctx context.Context, draft *types.RecipeDraft) (*types.QualityAssessment, error)
}

type Classifier interface {
	Classify(ctx context.Context, draft *types.RecipeDraft) (*types.Classification, error)
}

type NutritionEstimator interface {
	EstimateNutrition(ctx context.Context, title string, ingredients []string) (*types.Nutrition, error)
}

// ImageRehoster copies a provider image into durable storage
type ImageRehoster interface {
	Rehost(ctx context.Context, sourceURL, requestID string, stepIndex int) (string, error)
}

type DuplicateDetector interface {
	FindDuplicate(ctx context.Context, draft *types.RecipeDraft) (types.DuplicateResult, error)
	Merge(ctx context.Context, incoming *types.RecipeDraft, existingID string) (*types.RecipeDraft, error)
}

// RecipeStore persists finished recipes. A nil owner means the global collection.
type RecipeStore interface {
	Save(ctx context.Context, draft *types.RecipeDraft, owner *uuid.UUID) (*types.RecipeDraft, error)
	Update(ctx context.Context, draft *types.RecipeDraft) error
}

// CancellationSource answers whether a run should stop at its next checkpoint
type CancellationSource interface {
	IsCancelled(ctx context.Context, requestID string) bool
}

// CancellationFunc adapts a function to CancellationSource
type CancellationFunc func(ctx context.Context, requestID string) bool

func (f CancellationFunc) IsCancelled(ctx context.Context, requestID string) bool {
	return f(ctx, requestID)
}

// RegistrySource reads the process-local cancellation registry
func RegistrySource(reg *cancellation.Registry) CancellationSource {
	return CancellationFunc(func(_ context.Context, requestID string) bool {
		return reg.IsCancelled(requestID)
	})
}

// Finalizer is implemented by cancellation sources that can refuse later
// cancels once a run is past its last checkpoint. Finalize reports false
// when a cancel was recorded first.
type Finalizer interface {
	Finalize(ctx context.Context, requestID string) bool
}

type anyOf []CancellationSource

// AnyOf stops when any source reports cancellation. Finalize asks every
// source that implements Finalizer.
func AnyOf(sources ...CancellationSource) CancellationSource {
	return anyOf(sources)
}

func (a anyOf) IsCancelled(ctx context.Context, requestID string) bool {
	for _, s := range a {
		if s != nil && s.IsCancelled(ctx, requestID) {
			return true
		}
	}
	return false
}

func (a anyOf) Finalize(ctx context.Context, requestID string) bool {
	for _, s := range a {
		if f, ok := s.(Finalizer); ok && !f.Finalize(ctx, requestID) {
			return false
		}
	}
	return true
}
