package dedupe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// CollectionStore pages through and rewrites the global collection
type CollectionStore interface {
	ListGlobal(ctx context.Context, offset, limit int) ([]*types.RecipeDraft, error)
	Update(ctx context.Context, draft *types.RecipeDraft) error
	Delete(ctx context.Context, id string) error
}

// MergePair is one reconciliation decision
type MergePair struct {
	KeptID    string  `json:"keptId"`
	RemovedID string  `json:"removedId"`
	Score     float64 `json:"score"`
}

// ReconcileReport summarizes a reconciliation run
type ReconcileReport struct {
	Scanned int         `json:"scanned"`
	Merged  int         `json:"merged"`
	DryRun  bool        `json:"dryRun"`
	Pairs   []MergePair `json:"pairs"`
}

// Reconciler merges duplicates that slipped into the global collection,
// keeping the oldest recipe of each group.
type Reconciler struct {
	store    CollectionStore
	log      *zap.Logger
	pageSize int
}

func NewReconciler(store CollectionStore, log *zap.Logger, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Reconciler{store: store, log: log, pageSize: pageSize}
}

type canonical struct {
	draft *types.RecipeDraft
	fp    Fingerprint
}

// Run scans the whole collection before writing so deletions do not shift
// the pages still to be read.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	var all []*types.RecipeDraft
	for offset := 0; ; offset += r.pageSize {
		page, err := r.store.ListGlobal(ctx, offset, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list recipes at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < r.pageSize {
			break
		}
	}

	report := &ReconcileReport{Scanned: len(all), DryRun: dryRun, Pairs: []MergePair{}}
	var kept []*canonical
	byTitle := make(map[string][]int)
	byIngredients := make(map[string][]int)

	for _, d := range all {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fp := Compute(d)

		bestIdx, bestScore := -1, 0.0
		for _, idx := range candidates(fp, byTitle, byIngredients) {
			if score := Jaccard(fp.Ingredients, kept[idx].fp.Ingredients); score > bestScore {
				bestIdx, bestScore = idx, score
			}
		}

		if bestIdx >= 0 && bestScore >= MergeThreshold {
			c := kept[bestIdx]
			c.draft = Absorb(c.draft, d)
			report.Merged++
			report.Pairs = append(report.Pairs, MergePair{KeptID: c.draft.ID, RemovedID: d.ID, Score: bestScore})
			r.log.Info("duplicate found",
				zap.String("kept_id", c.draft.ID),
				zap.String("removed_id", d.ID),
				zap.Float64("score", bestScore),
				zap.Bool("dry_run", dryRun),
			)
			if !dryRun {
				if err := r.store.Update(ctx, c.draft); err != nil {
					return report, fmt.Errorf("failed to update %s: %w", c.draft.ID, err)
				}
				if err := r.store.Delete(ctx, d.ID); err != nil {
					return report, fmt.Errorf("failed to delete %s: %w", d.ID, err)
				}
			}
			continue
		}

		idx := len(kept)
		kept = append(kept, &canonical{draft: d, fp: fp})
		if fp.TitleKey != "" {
			byTitle[fp.TitleKey] = append(byTitle[fp.TitleKey], idx)
		}
		if fp.IngredientKey != "" {
			byIngredients[fp.IngredientKey] = append(byIngredients[fp.IngredientKey], idx)
		}
	}

	return report, nil
}

func candidates(fp Fingerprint, byTitle, byIngredients map[string][]int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, idx := range append(append([]int(nil), byTitle[fp.TitleKey]...), byIngredients[fp.IngredientKey]...) {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
