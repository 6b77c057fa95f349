// Package pipeline drives one generation request from query to persisted
// recipe.
//
// A run is a fixed sequence of stages. Before each stage the run consults
// its CancellationSource and stops with a cancellation error when asked.
// Cancellation never interrupts a call already in flight. Partial drafts
// are published through the progress cache so polling clients can follow
// along, and every exit path clears the registry entry and the snapshot
// and records a terminal marker.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/metrics"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/progress"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Stage names, in execution order
const (
	StageContent    = "content_generation"
	StageParse      = "parse"
	StageQuality    = "quality_evaluation"
	StageEnhance    = "enhancement"
	StageCategorize = "categorization"
	StageDuplicate  = "duplicate_check"
	StageIllustrate = "illustration"
	StageNutrition  = "nutrition"
	StagePersist    = "persist"
)

// Stages lists every stage in the order a run visits them
var Stages = []string{
	StageContent, StageParse, StageQuality, StageEnhance, StageCategorize,
	StageDuplicate, StageIllustrate, StageNutrition, StagePersist,
}

// FallbackCategory is used when categorization fails and the generated
// text carried no category.
const FallbackCategory = "Uncategorized"

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Text       TextGenerator
	Images     ImageGenerator
	Rehoster   ImageRehoster
	Quality    QualityEvaluator
	Classifier Classifier
	Nutrition  NutritionEstimator
	Duplicates DuplicateDetector
	Recipes    RecipeStore
	Registry   *cancellation.Registry
	Progress   *progress.Cache
	Metrics    *metrics.Metrics
}

// Orchestrator runs generation requests. It is safe for concurrent use by
// different requests; one request id must only ever run once at a time.
type Orchestrator struct {
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

func New(deps Deps, log *zap.Logger) *Orchestrator {
	return &Orchestrator{deps: deps, log: log, now: time.Now}
}

// Run executes every stage for req. A nil cancel consults the registry.
func (o *Orchestrator) Run(ctx context.Context, req *types.GenerationRequest, cancel CancellationSource) (result *types.GenerationResult, err error) {
	if cancel == nil {
		cancel = RegistrySource(o.deps.Registry)
	}
	if !o.deps.Registry.Known(req.RequestID) {
		o.deps.Registry.Register(req.RequestID)
	}

	r := &run{
		o:      o,
		req:    req,
		cancel: cancel,
		log: o.log.With(
			zap.String("request_id", req.RequestID),
			zap.String("mode", string(req.Mode)),
		),
	}

	start := o.now()
	defer func() {
		o.finish(ctx, r, result, err, start)
	}()

	return r.execute(ctx)
}

// finish clears per-request state and records how the run ended. It uses a
// context detached from cancellation so cleanup still happens after the
// caller's context is done. An attempt the queue will retry writes no
// terminal marker.
func (o *Orchestrator) finish(ctx context.Context, r *run, result *types.GenerationResult, err error, start time.Time) {
	cctx := context.WithoutCancel(ctx)
	id := r.req.RequestID

	o.deps.Registry.Cleanup(id)
	if cerr := o.deps.Progress.Cleanup(cctx, id); cerr != nil {
		r.log.Warn("progress cleanup failed", zap.Error(cerr))
	}

	if r.req.RetryPending(err) {
		r.log.Warn("generation attempt failed, retry pending",
			zap.Int("attempt", r.req.Attempt),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err))
		o.deps.Metrics.RunFinished(string(r.req.Mode), "retrying")
		return
	}

	marker := types.TerminalMarker{At: o.now().UTC()}
	outcome := ""
	switch {
	case err == nil:
		marker.Status = types.StatusCompleted
		marker.Recipe = result.Recipe
		marker.RecipeID = result.Recipe.ID
		outcome = "completed"
		r.log.Info("generation completed",
			zap.String("recipe_id", result.Recipe.ID),
			zap.Bool("merged", result.Merged),
			zap.Duration("elapsed", o.now().Sub(start)))
	case apperrors.IsCancelled(err):
		marker.Status = types.StatusCancelled
		marker.Reason = apperrors.UserMessage(err)
		outcome = "cancelled"
		r.log.Info("generation cancelled", zap.Error(err))
	default:
		marker.Status = types.StatusFailed
		marker.Reason = apperrors.UserMessage(err)
		outcome = "failed"
		r.log.Error("generation failed", zap.String("code", string(apperrors.CodeOf(err))), zap.Error(err))
	}

	if merr := o.deps.Progress.MarkTerminal(cctx, id, marker); merr != nil {
		r.log.Warn("terminal marker write failed", zap.Error(merr))
	}
	o.deps.Metrics.RunFinished(string(r.req.Mode), outcome)
}
