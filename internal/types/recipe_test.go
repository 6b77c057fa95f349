package types

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
)

func TestNutritionWellFormed(t *testing.T) {
	assert.True(t, Nutrition{Calories: 420, Protein: 20, Fat: 10, Carbs: 50}.WellFormed())
	assert.False(t, Nutrition{}.WellFormed())
	assert.False(t, Nutrition{Calories: -1, Protein: 2}.WellFormed())
	assert.False(t, Nutrition{Calories: math.NaN()}.WellFormed())
	assert.False(t, Nutrition{Calories: math.Inf(1)}.WellFormed())
}

func TestQualityAssessmentNormalize(t *testing.T) {
	q := QualityAssessment{Completeness: 12, Clarity: -3, Consistency: 5, Overall: 7.0}
	q.Normalize()
	assert.Equal(t, 10.0, q.Completeness)
	assert.Equal(t, 0.0, q.Clarity)
	assert.True(t, q.PassingThreshold)

	q.Overall = 6.99
	q.Normalize()
	assert.False(t, q.PassingThreshold)
}

func TestDraftCloneIsDeep(t *testing.T) {
	score := 8.0
	d := &RecipeDraft{
		Ingredients:  []string{"flour"},
		Steps:        []Step{{Text: "mix"}},
		Tags:         []string{"baking"},
		QualityScore: &score,
	}
	c := d.Clone()
	c.Ingredients[0] = "sugar"
	c.Steps[0].ImageRef = "x"
	*c.QualityScore = 1

	assert.Equal(t, "flour", d.Ingredients[0])
	assert.Empty(t, d.Steps[0].ImageRef)
	assert.Equal(t, 8.0, *d.QualityScore)
	assert.Nil(t, (*RecipeDraft)(nil).Clone())
}

func TestLooksFinal(t *testing.T) {
	score := 7.5
	assert.False(t, (&RecipeDraft{}).LooksFinal())
	assert.False(t, (&RecipeDraft{QualityScore: &score}).LooksFinal())
	assert.True(t, (&RecipeDraft{QualityScore: &score, SimilarityHash: "abc"}).LooksFinal())
}

func TestNormalizeTier(t *testing.T) {
	assert.Equal(t, TierPremium, NormalizeTier(" Premium "))
	assert.Equal(t, TierFree, NormalizeTier("platinum"))
	assert.Equal(t, TierFree, NormalizeTier(""))
}

func TestRetryPending(t *testing.T) {
	ext := apperrors.NewExternalServiceError("text generation", errors.New("503"))
	req := GenerationRequest{Mode: ModeQueued, Attempt: 1, MaxAttempts: 3}

	assert.True(t, req.RetryPending(ext))
	assert.False(t, req.RetryPending(nil))
	assert.False(t, req.RetryPending(apperrors.NewValidationError("title is required")))

	req.Attempt = 3
	assert.False(t, req.RetryPending(ext), "last attempt")

	sync := GenerationRequest{Mode: ModeSynchronous}
	assert.False(t, sync.RetryPending(ext))
}
