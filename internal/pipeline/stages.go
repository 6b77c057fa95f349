package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/ai"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/progress"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// run is the state of one request moving through the stages
type run struct {
	o      *Orchestrator
	req    *types.GenerationRequest
	cancel CancellationSource
	log    *zap.Logger

	raw          string
	draft        *types.RecipeDraft
	hasNutrition bool
	merged       bool
}

func (r *run) execute(ctx context.Context) (*types.GenerationResult, error) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageContent, r.generateContent},
		{StageParse, r.parse},
		{StageQuality, r.evaluate},
		{StageCategorize, r.categorize},
		{StageDuplicate, r.checkDuplicate},
		{StageIllustrate, r.illustrate},
		{StageNutrition, r.nutrition},
	}

	for _, s := range steps {
		if err := r.checkpoint(ctx, s.name); err != nil {
			return nil, err
		}
		start := time.Now()
		err := s.fn(ctx)
		r.o.deps.Metrics.ObserveStage(s.name, start)
		if err != nil {
			return nil, err
		}
	}

	if err := r.checkpoint(ctx, StagePersist); err != nil {
		return nil, err
	}
	if err := r.commit(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer r.o.deps.Metrics.ObserveStage(StagePersist, start)
	return r.persist(ctx)
}

// checkpoint stops the run when cancellation was requested
func (r *run) checkpoint(ctx context.Context, stage string) error {
	if r.cancel.IsCancelled(ctx, r.req.RequestID) {
		r.log.Info("cancellation observed", zap.String("stage", stage))
		return apperrors.NewCancelledError(r.req.RequestID, stage)
	}
	return nil
}

// commit closes the cancellation window before anything is written. From
// here on cancel requests are refused, so the run always ends completed
// or failed.
func (r *run) commit(ctx context.Context) error {
	id := r.req.RequestID
	if !r.o.deps.Registry.Finalize(id) {
		r.log.Info("cancellation observed", zap.String("stage", StagePersist))
		return apperrors.NewCancelledError(id, StagePersist)
	}
	if f, ok := r.cancel.(Finalizer); ok && !f.Finalize(ctx, id) {
		r.log.Info("cancellation observed", zap.String("stage", StagePersist))
		return apperrors.NewCancelledError(id, StagePersist)
	}
	return nil
}

func (r *run) snapshot(ctx context.Context, update *progress.StepUpdate) {
	if !r.o.deps.Progress.WritePartial(ctx, r.req.RequestID, r.draft, update) {
		r.log.Debug("partial snapshot not stored")
	}
}

func (r *run) generateContent(ctx context.Context) error {
	raw, err := r.o.deps.Text.GenerateText(ctx, ai.BuildGenerationPrompt(r.req.Query, r.req.UserPreferences))
	if err != nil {
		return asExternal("text generation", err)
	}
	r.raw = raw
	return nil
}

func (r *run) parse(_ context.Context) error {
	parsed, err := ai.ParseRecipe(r.raw)
	if err != nil {
		return err
	}
	created := r.req.CreatedAt
	if created.IsZero() {
		created = r.o.now().UTC()
	}
	parsed.Draft.ID = uuid.New().String()
	parsed.Draft.RequestID = r.req.RequestID
	parsed.Draft.CreatedAt = created
	r.draft = parsed.Draft
	r.hasNutrition = parsed.HasNutrition
	return nil
}

// evaluate scores the draft and, below the passing score, asks for exactly
// one rewrite. The rewrite is never scored again.
func (r *run) evaluate(ctx context.Context) error {
	q, err := r.o.deps.Quality.EvaluateQuality(ctx, r.draft)
	if err != nil {
		return asExternal("quality evaluation", err)
	}
	score := q.Overall
	r.draft.QualityScore = &score
	r.snapshot(ctx, nil)

	if q.Overall >= types.QualityPassingScore {
		return nil
	}

	if err := r.checkpoint(ctx, StageEnhance); err != nil {
		return err
	}
	start := time.Now()
	defer r.o.deps.Metrics.ObserveStage(StageEnhance, start)

	r.log.Info("quality below threshold, enhancing", zap.Float64("overall", q.Overall))
	r.enhance(ctx, q)
	r.draft.QualityScore = &score
	r.snapshot(ctx, nil)
	return nil
}

// enhance replaces the draft content with one rewrite. A failed rewrite
// keeps the original draft.
func (r *run) enhance(ctx context.Context, q *types.QualityAssessment) {
	raw, err := r.o.deps.Text.GenerateText(ctx, ai.BuildEnhancementPrompt(r.draft, q))
	if err != nil {
		r.log.Warn("enhancement failed, keeping original draft", zap.Error(err))
		return
	}
	parsed, err := ai.ParseRecipe(raw)
	if err != nil {
		r.log.Warn("enhanced recipe invalid, keeping original draft", zap.Error(err))
		return
	}

	enhanced := parsed.Draft
	enhanced.ID = r.draft.ID
	enhanced.RequestID = r.draft.RequestID
	enhanced.CreatedAt = r.draft.CreatedAt
	if enhanced.Category == "" {
		enhanced.Category = r.draft.Category
	}
	r.draft = enhanced
	r.hasNutrition = parsed.HasNutrition
}

func (r *run) categorize(ctx context.Context) error {
	c, err := r.o.deps.Classifier.Classify(ctx, r.draft)
	if err != nil {
		r.log.Warn("categorization failed, using fallback", zap.Error(err))
		if r.draft.Category == "" {
			r.draft.Category = FallbackCategory
		}
	} else {
		r.draft.Category = c.Category
		if len(c.Tags) > 0 {
			r.draft.Tags = c.Tags
		}
	}
	r.snapshot(ctx, nil)
	return nil
}

// checkDuplicate fingerprints the draft and folds it into a stored recipe
// when one is similar enough. Lookup failures proceed as not duplicate.
func (r *run) checkDuplicate(ctx context.Context) error {
	r.draft.SimilarityHash = dedupe.Compute(r.draft).Hash

	res, err := r.o.deps.Duplicates.FindDuplicate(ctx, r.draft)
	if err != nil {
		r.log.Warn("duplicate lookup failed, treating as new recipe", zap.Error(err))
		return nil
	}
	if !res.IsDuplicate {
		return nil
	}

	merged, err := r.o.deps.Duplicates.Merge(ctx, r.draft, res.ExistingID)
	if err != nil {
		r.log.Warn("merge failed, treating as new recipe",
			zap.String("existing_id", res.ExistingID),
			zap.Error(err))
		return nil
	}

	r.log.Info("duplicate recipe merged",
		zap.String("existing_id", res.ExistingID),
		zap.Float64("similarity", res.SimilarityScore))
	merged.RequestID = r.req.RequestID
	if merged.QualityScore == nil {
		merged.QualityScore = r.draft.QualityScore
	}
	if merged.SimilarityHash == "" {
		merged.SimilarityHash = r.draft.SimilarityHash
	}
	r.draft = merged
	r.merged = true
	r.o.deps.Metrics.Duplicate()
	return nil
}

// illustrate handles steps one at a time and publishes a snapshot after
// each one. A failed step keeps no image and the run continues.
func (r *run) illustrate(ctx context.Context) error {
	for i := range r.draft.Steps {
		if i > 0 {
			if err := r.checkpoint(ctx, StageIllustrate); err != nil {
				return err
			}
		}

		if ref := r.draft.Steps[i].ImageRef; ref != "" {
			r.snapshot(ctx, progress.Image(i, ref))
			continue
		}

		ref, err := r.illustrateStep(ctx, i)
		if err != nil {
			r.log.Warn("step illustration failed", zap.Int("step", i), zap.Error(err))
			r.o.deps.Metrics.Illustration("failed")
			r.snapshot(ctx, progress.Touched(i))
			continue
		}
		r.draft.Steps[i].ImageRef = ref
		r.o.deps.Metrics.Illustration("ok")
		r.snapshot(ctx, progress.Image(i, ref))
	}
	return nil
}

func (r *run) illustrateStep(ctx context.Context, i int) (string, error) {
	url, err := r.o.deps.Images.GenerateImage(ctx, ai.BuildIllustrationPrompt(r.draft, i), r.req.SubscriptionTier)
	if err != nil {
		return "", err
	}
	return r.o.deps.Rehoster.Rehost(ctx, url, r.req.RequestID, i)
}

func (r *run) nutrition(ctx context.Context) error {
	if r.hasNutrition && r.draft.Nutrition.WellFormed() {
		return nil
	}
	if r.merged && r.draft.Nutrition.WellFormed() {
		return nil
	}
	n, err := r.o.deps.Nutrition.EstimateNutrition(ctx, r.draft.Title, r.draft.Ingredients)
	if err != nil {
		r.log.Warn("nutrition estimation failed, using zeroed default", zap.Error(err))
		r.draft.Nutrition = types.Nutrition{}
		return nil
	}
	r.draft.Nutrition = *n
	return nil
}

// persist stores the recipe globally unless it was merged, and stores a
// personal copy when asked. Each save is independent; the run fails only
// when nothing could be saved.
func (r *run) persist(ctx context.Context) (*types.GenerationResult, error) {
	result := &types.GenerationResult{Recipe: r.draft, Merged: r.merged}

	var globalErr error
	if r.merged {
		globalErr = r.o.deps.Recipes.Update(ctx, r.draft)
	} else {
		var saved *types.RecipeDraft
		saved, globalErr = r.o.deps.Recipes.Save(ctx, r.draft, nil)
		if globalErr == nil {
			result.Recipe = saved
			if saved.RequestID == "" {
				saved.RequestID = r.req.RequestID
			}
		}
	}
	if globalErr != nil {
		r.log.Error("global recipe save failed", zap.Bool("merged", r.merged), zap.Error(globalErr))
	}

	personalAttempted := r.req.Save && r.req.UserID != nil
	var personalErr error
	if personalAttempted {
		var personal *types.RecipeDraft
		personal, personalErr = r.o.deps.Recipes.Save(ctx, result.Recipe, r.req.UserID)
		if personalErr != nil {
			r.log.Error("personal recipe save failed",
				zap.String("user_id", r.req.UserID.String()),
				zap.Error(personalErr))
		} else {
			result.PersonalCopyID = personal.ID
		}
	}

	if globalErr != nil && (!personalAttempted || personalErr != nil) {
		return nil, apperrors.NewPersistenceError("save recipe", errors.Join(globalErr, personalErr))
	}
	return result, nil
}

// asExternal keeps taxonomy errors and wraps foreign ones
func asExternal(service string, err error) error {
	if apperrors.CodeOf(err) != apperrors.CodeInternal {
		return err
	}
	return apperrors.NewExternalServiceError(service, err)
}
