package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/model"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// ErrRecipeNotFound is returned when no live recipe has the given id
var ErrRecipeNotFound = errors.New("recipe not found")

const (
	similarLimit   = 25
	neighbourLimit = 5
)

// RecipeRepository stores recipes in the global and personal collections
type RecipeRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRecipeRepository(db *gorm.DB, log *zap.Logger) *RecipeRepository {
	return &RecipeRepository{db: db, log: log}
}

// Save inserts a recipe. A nil owner stores it in the global collection
// under the draft's id; otherwise a personal copy with a fresh id is stored
// and linked back to the draft's id.
func (r *RecipeRepository) Save(ctx context.Context, draft *types.RecipeDraft, owner *uuid.UUID) (*types.RecipeDraft, error) {
	row := model.FromDraft(draft)
	applyFingerprint(row, draft)

	if owner != nil {
		o := *owner
		row.OwnerID = &o
		if src, err := uuid.Parse(draft.ID); err == nil {
			row.SourceRecipeID = &src
		}
		row.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert recipe: %w", err)
	}
	return row.ToDraft(), nil
}

// Update rewrites the content of a stored recipe. Ownership, request id and
// creation time never change.
func (r *RecipeRepository) Update(ctx context.Context, draft *types.RecipeDraft) error {
	row := model.FromDraft(draft)
	applyFingerprint(row, draft)

	res := r.db.WithContext(ctx).Model(&model.Recipe{}).Where("id = ?", draft.ID).Updates(map[string]interface{}{
		"title":           row.Title,
		"description":     row.Description,
		"servings":        row.Servings,
		"ingredients":     row.Ingredients,
		"steps":           row.Steps,
		"calories":        row.Calories,
		"protein":         row.Protein,
		"fat":             row.Fat,
		"carbs":           row.Carbs,
		"category":        row.Category,
		"tags":            row.Tags,
		"quality_score":   row.QualityScore,
		"similarity_hash": row.SimilarityHash,
		"title_key":       row.TitleKey,
		"ingredient_key":  row.IngredientKey,
		"embedding":       row.Embedding,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update recipe %s: %w", draft.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecipeNotFound
	}
	return nil
}

// FindByID loads a live recipe
func (r *RecipeRepository) FindByID(ctx context.Context, id string) (*types.RecipeDraft, error) {
	var row model.Recipe
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecipeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe %s: %w", id, err)
	}
	return row.ToDraft(), nil
}

// FindSimilar returns global recipes sharing any fingerprint key, oldest
// first. On postgres the nearest embeddings are added as well.
func (r *RecipeRepository) FindSimilar(ctx context.Context, fp dedupe.Fingerprint) ([]*types.RecipeDraft, error) {
	db := r.db.WithContext(ctx)

	match := db.Where("similarity_hash = ?", fp.Hash)
	if fp.TitleKey != "" {
		match = match.Or("title_key = ?", fp.TitleKey)
	}
	if fp.IngredientKey != "" {
		match = match.Or("ingredient_key = ?", fp.IngredientKey)
	}

	var rows []model.Recipe
	if err := db.Where("owner_id IS NULL").Where(match).
		Order("created_at ASC").Limit(similarLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find similar recipes: %w", err)
	}

	if r.db.Dialector.Name() == "postgres" && len(fp.Ingredients) > 0 {
		var near []model.Recipe
		err := db.Where("owner_id IS NULL").
			Clauses(clause.OrderBy{Expression: clause.Expr{
				SQL:  "embedding <-> ?",
				Vars: []interface{}{pgvector.NewVector(fp.Embedding)},
			}}).
			Limit(neighbourLimit).Find(&near).Error
		if err != nil {
			r.log.Warn("nearest-neighbour lookup failed", zap.Error(err))
		} else {
			rows = append(rows, near...)
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(rows))
	out := make([]*types.RecipeDraft, 0, len(rows))
	for i := range rows {
		if _, ok := seen[rows[i].ID]; ok {
			continue
		}
		seen[rows[i].ID] = struct{}{}
		out = append(out, rows[i].ToDraft())
	}
	return out, nil
}

// ListGlobal pages through the global collection, oldest first
func (r *RecipeRepository) ListGlobal(ctx context.Context, offset, limit int) ([]*types.RecipeDraft, error) {
	var rows []model.Recipe
	if err := r.db.WithContext(ctx).Where("owner_id IS NULL").
		Order("created_at ASC").Order("id ASC").
		Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	out := make([]*types.RecipeDraft, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDraft())
	}
	return out, nil
}

// Delete soft-deletes a recipe
func (r *RecipeRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Recipe{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete recipe %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecipeNotFound
	}
	return nil
}

func applyFingerprint(row *model.Recipe, draft *types.RecipeDraft) {
	fp := dedupe.Compute(draft)
	row.TitleKey = fp.TitleKey
	row.IngredientKey = fp.IngredientKey
	row.Embedding = pgvector.NewVector(fp.Embedding)
	if row.SimilarityHash == "" {
		row.SimilarityHash = fp.Hash
	}
}
