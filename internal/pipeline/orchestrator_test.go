package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/mocks"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/pipeline"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/progress"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

const lasagnaJSON = `{
	"title": "Vegetarian Lasagna",
	"servings": 6,
	"ingredients": ["12 lasagna noodles", "2 cups ricotta cheese", "3 cups marinara sauce"],
	"steps": [
		{"text": "Boil the noodles", "illustration_prompt": "noodles in boiling water"},
		{"text": "Layer noodles, ricotta and sauce"},
		{"text": "Bake for 45 minutes"}
	],
	"nutrition": {"calories": 420, "protein": 18, "fat": 14, "carbs": 52},
	"category": "Main Course",
	"tags": ["italian"]
}`

const enhancedJSON = `{
	"title": "Hearty Vegetarian Lasagna",
	"servings": 8,
	"ingredients": ["12 lasagna noodles", "2 cups ricotta cheese", "3 cups marinara sauce", "2 cups spinach"],
	"steps": ["Boil the noodles", "Wilt the spinach", "Layer everything", "Bake for 45 minutes"]
}`

type harness struct {
	text       *mocks.MockTextGenerator
	images     *mocks.MockImageGenerator
	rehoster   *mocks.MockImageRehoster
	quality    *mocks.MockQualityEvaluator
	classifier *mocks.MockClassifier
	nutrition  *mocks.MockNutritionEstimator
	duplicates *mocks.MockDuplicateDetector
	recipes    *mocks.MockRecipeRepository
	registry   *cancellation.Registry
	cache      *progress.Cache
	orch       *pipeline.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		text:       new(mocks.MockTextGenerator),
		images:     new(mocks.MockImageGenerator),
		rehoster:   new(mocks.MockImageRehoster),
		quality:    new(mocks.MockQualityEvaluator),
		classifier: new(mocks.MockClassifier),
		nutrition:  new(mocks.MockNutritionEstimator),
		duplicates: new(mocks.MockDuplicateDetector),
		recipes:    new(mocks.MockRecipeRepository),
		registry:   cancellation.NewRegistry(zap.NewNop(), time.Minute),
		cache:      progress.New(progress.NewMemoryStore(), zap.NewNop(), progress.Options{Backend: "memory"}),
	}
	h.orch = pipeline.New(pipeline.Deps{
		Text:       h.text,
		Images:     h.images,
		Rehoster:   h.rehoster,
		Quality:    h.quality,
		Classifier: h.classifier,
		Nutrition:  h.nutrition,
		Duplicates: h.duplicates,
		Recipes:    h.recipes,
		Registry:   h.registry,
		Progress:   h.cache,
	}, zap.NewNop())
	return h
}

// happyPath wires every collaborator for a successful, non-duplicate run
func (h *harness) happyPath(overall float64) {
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil).Once()
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: overall}, nil)
	h.classifier.On("Classify", mock.Anything, mock.Anything).Return(&types.Classification{Category: "Main Course", Tags: []string{"italian", "vegetarian"}}, nil)
	h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).Return(types.DuplicateResult{SimilarityScore: 0.2}, nil)
	h.images.On("GenerateImage", mock.Anything, mock.Anything, "free").Return("https://provider.example/img.png", nil)
	h.rehoster.On("Rehost", mock.Anything, "https://provider.example/img.png", mock.Anything, mock.Anything).
		Return("https://cdn.example/step.png", nil)
	h.recipes.On("Save", mock.Anything, mock.Anything, nilOwner).
		Return(func(_ context.Context, d *types.RecipeDraft, _ *uuid.UUID) *types.RecipeDraft { return d.Clone() }, nil)
}

var nilOwner = mock.MatchedBy(func(o *uuid.UUID) bool { return o == nil })

func request(id string) *types.GenerationRequest {
	return &types.GenerationRequest{
		RequestID:        id,
		Query:            "vegetarian lasagna",
		SubscriptionTier: "free",
		Mode:             types.ModeSynchronous,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRunCompletesAllStages(t *testing.T) {
	h := newHarness(t)
	h.happyPath(8.5)

	res, err := h.orch.Run(context.Background(), request("req-a"), nil)
	require.NoError(t, err)

	r := res.Recipe
	assert.False(t, res.Merged)
	assert.Equal(t, "Vegetarian Lasagna", r.Title)
	assert.NotEmpty(t, r.Ingredients)
	require.Len(t, r.Steps, 3)
	for _, s := range r.Steps {
		assert.Equal(t, "https://cdn.example/step.png", s.ImageRef)
	}
	assert.Equal(t, "Main Course", r.Category)
	assert.Equal(t, []string{"italian", "vegetarian"}, r.Tags)
	require.NotNil(t, r.QualityScore)
	assert.Equal(t, 8.5, *r.QualityScore)
	assert.NotEmpty(t, r.SimilarityHash)
	assert.Equal(t, 420.0, r.Nutrition.Calories)
	assert.Equal(t, "req-a", r.RequestID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), r.CreatedAt)

	h.text.AssertNumberOfCalls(t, "GenerateText", 1)
	h.images.AssertNumberOfCalls(t, "GenerateImage", 3)
	h.nutrition.AssertNotCalled(t, "EstimateNutrition", mock.Anything, mock.Anything, mock.Anything)
	h.recipes.AssertNumberOfCalls(t, "Save", 1)

	assertCleanedUp(t, h, "req-a", types.StatusCompleted)
}

func TestQualityGateEnhancesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil).Once()
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(enhancedJSON, nil).Once()
	h.happyPath(6.2)
	h.nutrition.On("EstimateNutrition", mock.Anything, "Hearty Vegetarian Lasagna", mock.Anything).
		Return(&types.Nutrition{Calories: 380, Protein: 16, Fat: 11, Carbs: 50}, nil)

	res, err := h.orch.Run(context.Background(), request("req-c"), nil)
	require.NoError(t, err)

	h.text.AssertNumberOfCalls(t, "GenerateText", 2)
	h.quality.AssertNumberOfCalls(t, "EvaluateQuality", 1)
	r := res.Recipe
	assert.Equal(t, "Hearty Vegetarian Lasagna", r.Title)
	require.NotNil(t, r.QualityScore)
	assert.Equal(t, 6.2, *r.QualityScore)
	assert.Len(t, r.Steps, 4)
	assert.Equal(t, "req-c", r.RequestID)
	assert.Equal(t, 380.0, r.Nutrition.Calories, "enhanced output had no nutrition")
}

func TestQualityAtThresholdSkipsEnhancement(t *testing.T) {
	h := newHarness(t)
	h.happyPath(types.QualityPassingScore)

	_, err := h.orch.Run(context.Background(), request("req-t"), nil)
	require.NoError(t, err)
	h.text.AssertNumberOfCalls(t, "GenerateText", 1)
}

func TestEnhancementFailureKeepsOriginal(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil).Once()
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return("", apperrors.NewExternalServiceError("text generation", errors.New("timeout"))).Once()
	h.happyPath(3)

	res, err := h.orch.Run(context.Background(), request("req-ef"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Vegetarian Lasagna", res.Recipe.Title)
	h.text.AssertNumberOfCalls(t, "GenerateText", 2)
}

func TestDuplicateIsMergedNotInserted(t *testing.T) {
	h := newHarness(t)
	canonicalID := uuid.NewString()
	canonical := &types.RecipeDraft{
		ID:          canonicalID,
		Title:       "Vegetarian Lasagna",
		Ingredients: []string{"lasagna noodles", "ricotta cheese", "marinara sauce"},
		Steps:       []types.Step{{Text: "Boil", ImageRef: "https://cdn.example/old.png"}, {Text: "Bake"}},
		Nutrition:   types.Nutrition{Calories: 400, Protein: 17, Fat: 13, Carbs: 50},
		Category:    "Main Course",
	}

	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil)
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: 9}, nil)
	h.classifier.On("Classify", mock.Anything, mock.Anything).Return(&types.Classification{Category: "Main Course"}, nil)
	h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).
		Return(types.DuplicateResult{IsDuplicate: true, ExistingID: canonicalID, SimilarityScore: 0.91}, nil)
	h.duplicates.On("Merge", mock.Anything, mock.Anything, canonicalID).Return(canonical, nil)
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).Return("https://provider.example/new.png", nil)
	h.rehoster.On("Rehost", mock.Anything, mock.Anything, mock.Anything, 1).Return("https://cdn.example/new.png", nil)
	h.recipes.On("Update", mock.Anything, mock.MatchedBy(func(d *types.RecipeDraft) bool { return d.ID == canonicalID })).Return(nil)

	res, err := h.orch.Run(context.Background(), request("req-d"), nil)
	require.NoError(t, err)

	assert.True(t, res.Merged)
	assert.Equal(t, canonicalID, res.Recipe.ID)
	assert.Equal(t, "https://cdn.example/old.png", res.Recipe.Steps[0].ImageRef)
	assert.Equal(t, "https://cdn.example/new.png", res.Recipe.Steps[1].ImageRef)
	h.duplicates.AssertCalled(t, "Merge", mock.Anything, mock.Anything, canonicalID)
	h.recipes.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	h.images.AssertNumberOfCalls(t, "GenerateImage", 1)
	h.nutrition.AssertNotCalled(t, "EstimateNutrition", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidationFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(`{"title": "Nothing"}`, nil)

	_, err := h.orch.Run(context.Background(), request("req-v"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	h.quality.AssertNotCalled(t, "EvaluateQuality", mock.Anything, mock.Anything)

	assertCleanedUp(t, h, "req-v", types.StatusFailed)
}

func TestTextGenerationFailureIsExternal(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	_, err := h.orch.Run(context.Background(), request("req-x"), nil)
	assert.True(t, apperrors.IsExternal(err))
	assertCleanedUp(t, h, "req-x", types.StatusFailed)
}

func TestQualityFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil)
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(nil, apperrors.NewExternalServiceError("quality evaluation", errors.New("503")))

	_, err := h.orch.Run(context.Background(), request("req-q"), nil)
	assert.True(t, apperrors.IsExternal(err))
	h.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

func TestDegradedStagesUseFallbacks(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(enhancedJSON, nil)
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: 8}, nil)
	h.classifier.On("Classify", mock.Anything, mock.Anything).Return(nil, errors.New("classifier down"))
	h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).Return(types.DuplicateResult{}, errors.New("db down"))
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("image quota")).Once()
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).Return("https://provider.example/ok.png", nil)
	h.rehoster.On("Rehost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://cdn.example/ok.png", nil)
	h.nutrition.On("EstimateNutrition", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("nutrition down"))
	h.recipes.On("Save", mock.Anything, mock.Anything, nilOwner).
		Return(func(_ context.Context, d *types.RecipeDraft, _ *uuid.UUID) *types.RecipeDraft { return d.Clone() }, nil)

	res, err := h.orch.Run(context.Background(), request("req-f"), nil)
	require.NoError(t, err)

	r := res.Recipe
	assert.Equal(t, pipeline.FallbackCategory, r.Category)
	assert.Empty(t, r.Steps[0].ImageRef)
	assert.Equal(t, "https://cdn.example/ok.png", r.Steps[1].ImageRef)
	assert.Equal(t, types.Nutrition{}, r.Nutrition)
	assert.False(t, res.Merged)
}

func TestCancellationStopsAtNextCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.happyPath(9)
	req := request("req-cancel")

	// cancel while the first image call is in flight
	h.images.ExpectedCalls = nil
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { h.registry.Cancel(req.RequestID) }).
		Return("https://provider.example/img.png", nil)

	_, err := h.orch.Run(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))

	h.images.AssertNumberOfCalls(t, "GenerateImage", 1)
	h.nutrition.AssertNotCalled(t, "EstimateNutrition", mock.Anything, mock.Anything, mock.Anything)
	h.recipes.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	assertCleanedUp(t, h, req.RequestID, types.StatusCancelled)
}

func TestCancelledBeforeStartRunsNothing(t *testing.T) {
	h := newHarness(t)
	stop := pipeline.CancellationFunc(func(context.Context, string) bool { return true })

	_, err := h.orch.Run(context.Background(), request("req-early"), stop)
	assert.True(t, apperrors.IsCancelled(err))
	h.text.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything)
}

func TestSnapshotsShowImagesAppearing(t *testing.T) {
	h := newHarness(t)
	h.happyPath(9)
	req := request("req-b")

	var seen []int
	h.images.ExpectedCalls = nil
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			snap, err := h.cache.ReadPartial(context.Background(), req.RequestID)
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.True(t, snap.IsPartial)
			assert.Less(t, snap.ProgressPercent, 100)
			assert.Equal(t, 3-len(seen), countMissing(snap.Draft.Steps))
			seen = append(seen, snap.ProgressPercent)
		}).
		Return("https://provider.example/img.png", nil)

	_, err := h.orch.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 60, 80}, seen)
}

func TestPersonalCopyIsIndependent(t *testing.T) {
	user := uuid.New()
	req := request("req-p")
	req.Save = true
	req.UserID = &user

	t.Run("both saved", func(t *testing.T) {
		h := newHarness(t)
		h.happyPath(9)
		h.recipes.On("Save", mock.Anything, mock.Anything, &user).Return(&types.RecipeDraft{ID: "personal-1"}, nil)

		res, err := h.orch.Run(context.Background(), req, nil)
		require.NoError(t, err)
		assert.Equal(t, "personal-1", res.PersonalCopyID)
		h.recipes.AssertNumberOfCalls(t, "Save", 2)
	})

	t.Run("personal copy fails", func(t *testing.T) {
		h := newHarness(t)
		h.happyPath(9)
		h.recipes.On("Save", mock.Anything, mock.Anything, &user).Return(nil, errors.New("constraint"))

		res, err := h.orch.Run(context.Background(), req, nil)
		require.NoError(t, err)
		assert.Empty(t, res.PersonalCopyID)
	})

	t.Run("global save fails", func(t *testing.T) {
		h := newHarness(t)
		h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil)
		h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: 9}, nil)
		h.classifier.On("Classify", mock.Anything, mock.Anything).Return(&types.Classification{Category: "Main Course"}, nil)
		h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).Return(types.DuplicateResult{}, nil)
		h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).Return("u", nil)
		h.rehoster.On("Rehost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("r", nil)
		h.recipes.On("Save", mock.Anything, mock.Anything, nilOwner).Return(nil, errors.New("db down"))
		h.recipes.On("Save", mock.Anything, mock.Anything, &user).Return(&types.RecipeDraft{ID: "personal-2"}, nil)

		res, err := h.orch.Run(context.Background(), req, nil)
		require.NoError(t, err)
		assert.Equal(t, "personal-2", res.PersonalCopyID)
	})
}

func TestAllSavesFailingIsPersistenceError(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil)
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: 9}, nil)
	h.classifier.On("Classify", mock.Anything, mock.Anything).Return(&types.Classification{Category: "Main Course"}, nil)
	h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).Return(types.DuplicateResult{}, nil)
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).Return("u", nil)
	h.rehoster.On("Rehost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("r", nil)
	h.recipes.On("Save", mock.Anything, mock.Anything, nilOwner).Return(nil, errors.New("db down"))

	_, err := h.orch.Run(context.Background(), request("req-pe"), nil)
	assert.Equal(t, apperrors.CodePersistence, apperrors.CodeOf(err))
	assertCleanedUp(t, h, "req-pe", types.StatusFailed)
}

func TestCancelDuringPersistIsRefused(t *testing.T) {
	h := newHarness(t)
	h.happyPath(9)
	req := request("req-late")

	accepted := true
	h.recipes.ExpectedCalls = nil
	h.recipes.On("Save", mock.Anything, mock.Anything, nilOwner).
		Run(func(mock.Arguments) { accepted = h.registry.Cancel(req.RequestID) }).
		Return(func(_ context.Context, d *types.RecipeDraft, _ *uuid.UUID) *types.RecipeDraft { return d.Clone() }, nil)

	_, err := h.orch.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.False(t, accepted, "cancel after the last checkpoint must be refused")
	assertCleanedUp(t, h, req.RequestID, types.StatusCompleted)
}

// cancelledElsewhere never reports cancellation at checkpoints but refuses
// to commit, as a job record cancelled by another process does.
type cancelledElsewhere struct{}

func (cancelledElsewhere) IsCancelled(context.Context, string) bool { return false }
func (cancelledElsewhere) Finalize(context.Context, string) bool { return false }

func TestCommitLosesToEarlierCancel(t *testing.T) {
	h := newHarness(t)
	h.happyPath(9)
	req := request("req-lost")

	_, err := h.orch.Run(context.Background(), req, pipeline.AnyOf(pipeline.RegistrySource(h.registry), cancelledElsewhere{}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
	h.recipes.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	assertCleanedUp(t, h, req.RequestID, types.StatusCancelled)
}

func TestCancelledMergeLeavesCanonicalUntouched(t *testing.T) {
	h := newHarness(t)
	req := request("req-dc")
	canonicalID := uuid.NewString()
	canonical := &types.RecipeDraft{
		ID:          canonicalID,
		Title:       "Vegetarian Lasagna",
		Ingredients: []string{"lasagna noodles", "ricotta cheese", "marinara sauce"},
		Steps:       []types.Step{{Text: "Boil"}, {Text: "Bake"}},
	}

	h.text.On("GenerateText", mock.Anything, mock.Anything).Return(lasagnaJSON, nil)
	h.quality.On("EvaluateQuality", mock.Anything, mock.Anything).Return(&types.QualityAssessment{Overall: 9}, nil)
	h.classifier.On("Classify", mock.Anything, mock.Anything).Return(&types.Classification{Category: "Main Course"}, nil)
	h.duplicates.On("FindDuplicate", mock.Anything, mock.Anything).
		Return(types.DuplicateResult{IsDuplicate: true, ExistingID: canonicalID, SimilarityScore: 0.9}, nil)
	h.duplicates.On("Merge", mock.Anything, mock.Anything, canonicalID).Return(canonical, nil)
	h.images.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { h.registry.Cancel(req.RequestID) }).
		Return("https://provider.example/img.png", nil)
	h.rehoster.On("Rehost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://cdn.example/img.png", nil)

	_, err := h.orch.Run(context.Background(), req, nil)
	assert.True(t, apperrors.IsCancelled(err))
	h.recipes.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	h.recipes.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttemptWithRetryLeftWritesNoMarker(t *testing.T) {
	h := newHarness(t)
	h.text.On("GenerateText", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	req := request("req-retry")
	req.Mode = types.ModeQueued
	req.Attempt = 1
	req.MaxAttempts = 2

	_, err := h.orch.Run(context.Background(), req, nil)
	assert.True(t, apperrors.IsExternal(err))
	assert.False(t, h.registry.Known(req.RequestID))
	marker, err := h.cache.Terminal(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Nil(t, marker)

	req.Attempt = 2
	_, err = h.orch.Run(context.Background(), req, nil)
	assert.True(t, apperrors.IsExternal(err))
	assertCleanedUp(t, h, req.RequestID, types.StatusFailed)
}

func TestAnyOf(t *testing.T) {
	no := pipeline.CancellationFunc(func(context.Context, string) bool { return false })
	yes := pipeline.CancellationFunc(func(context.Context, string) bool { return true })

	assert.False(t, pipeline.AnyOf(no, nil).IsCancelled(context.Background(), "x"))
	assert.True(t, pipeline.AnyOf(no, yes).IsCancelled(context.Background(), "x"))

	f, ok := pipeline.AnyOf(no, cancelledElsewhere{}).(pipeline.Finalizer)
	require.True(t, ok)
	assert.False(t, f.Finalize(context.Background(), "x"))
	assert.True(t, pipeline.AnyOf(no).(pipeline.Finalizer).Finalize(context.Background(), "x"))
}

func countMissing(steps []types.Step) int {
	n := 0
	for _, s := range steps {
		if s.ImageRef == "" {
			n++
		}
	}
	return n
}

func assertCleanedUp(t *testing.T, h *harness, id string, want types.Status) {
	t.Helper()
	assert.False(t, h.registry.Known(id), "registry entry left behind")

	snap, err := h.cache.ReadPartial(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, snap, "snapshot left behind")

	marker, err := h.cache.Terminal(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, want, marker.Status)
	if want == types.StatusCompleted {
		assert.NotEmpty(t, marker.RecipeID)
	} else {
		assert.NotEmpty(t, marker.Reason)
	}
}
