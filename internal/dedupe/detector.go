package dedupe

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Store is the slice of the recipe repository the detector needs
type Store interface {
	FindSimilar(ctx context.Context, fp Fingerprint) ([]*types.RecipeDraft, error)
	FindByID(ctx context.Context, id string) (*types.RecipeDraft, error)
}

// Detector decides whether a draft duplicates a stored global recipe
type Detector struct {
	store Store
	log   *zap.Logger
}

func NewDetector(store Store, log *zap.Logger) *Detector {
	return &Detector{store: store, log: log}
}

// FindDuplicate compares the draft's main ingredients against every
// candidate sharing its fingerprint and reports the best match.
func (d *Detector) FindDuplicate(ctx context.Context, draft *types.RecipeDraft) (types.DuplicateResult, error) {
	fp := Compute(draft)
	candidates, err := d.store.FindSimilar(ctx, fp)
	if err != nil {
		return types.DuplicateResult{}, fmt.Errorf("failed to load duplicate candidates: %w", err)
	}

	var best types.DuplicateResult
	for _, c := range candidates {
		if c.ID == draft.ID {
			continue
		}
		score := Jaccard(fp.Ingredients, MainIngredients(c.Ingredients))
		if score > best.SimilarityScore {
			best.SimilarityScore = score
			best.ExistingID = c.ID
		}
	}
	best.IsDuplicate = best.ExistingID != "" && best.SimilarityScore >= MergeThreshold
	if !best.IsDuplicate {
		best.ExistingID = ""
	}

	d.log.Debug("duplicate check",
		zap.String("request_id", draft.RequestID),
		zap.Int("candidates", len(candidates)),
		zap.Float64("best_score", best.SimilarityScore),
		zap.Bool("duplicate", best.IsDuplicate),
	)
	return best, nil
}

// Merge folds the new draft into the stored canonical recipe and returns
// the result under the canonical id. Nothing is written; the caller stores
// the merged recipe once the run is allowed to finish.
func (d *Detector) Merge(ctx context.Context, incoming *types.RecipeDraft, existingID string) (*types.RecipeDraft, error) {
	existing, err := d.store.FindByID(ctx, existingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical recipe %s: %w", existingID, err)
	}

	d.log.Debug("absorbed duplicate into canonical recipe",
		zap.String("request_id", incoming.RequestID),
		zap.String("canonical_id", existingID),
	)
	return Absorb(existing, incoming), nil
}

// Absorb returns canonical with its blank fields filled from incoming and
// the tags of both. The canonical id and creation time win.
func Absorb(canonical, incoming *types.RecipeDraft) *types.RecipeDraft {
	out := canonical.Clone()

	if out.Description == "" {
		out.Description = incoming.Description
	}
	if out.Category == "" {
		out.Category = incoming.Category
	}
	if out.Servings == 0 {
		out.Servings = incoming.Servings
	}
	if len(out.Ingredients) == 0 {
		out.Ingredients = append([]string(nil), incoming.Ingredients...)
	}
	if len(out.Steps) == 0 {
		out.Steps = append([]types.Step(nil), incoming.Steps...)
	} else {
		for i := range out.Steps {
			if i >= len(incoming.Steps) {
				break
			}
			if out.Steps[i].IllustrationPrompt == "" {
				out.Steps[i].IllustrationPrompt = incoming.Steps[i].IllustrationPrompt
			}
			if out.Steps[i].ImageRef == "" {
				out.Steps[i].ImageRef = incoming.Steps[i].ImageRef
			}
		}
	}
	if out.Nutrition.IsZero() {
		out.Nutrition = incoming.Nutrition
	}
	if out.QualityScore == nil && incoming.QualityScore != nil {
		q := *incoming.QualityScore
		out.QualityScore = &q
	}
	if out.SimilarityHash == "" {
		out.SimilarityHash = incoming.SimilarityHash
	}
	out.Tags = UnionTags(out.Tags, incoming.Tags)
	return out
}

// UnionTags merges tag lists, lowercased and without repeats, in first-seen order.
func UnionTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
