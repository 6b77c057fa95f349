package model

import (
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Recipe is a stored recipe. A nil OwnerID places it in the global
// collection; personal copies point back to their global source.
type Recipe struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	DeletedAt      gorm.DeletedAt   `gorm:"index" json:"-"`
	OwnerID        *uuid.UUID       `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	SourceRecipeID *uuid.UUID       `gorm:"type:uuid" json:"source_recipe_id,omitempty"`
	RequestID      string           `gorm:"size:64;index" json:"request_id"`
	Title          string           `gorm:"size:255;not null" json:"title"`
	Description    string           `gorm:"type:text" json:"description"`
	Servings       int              `json:"servings"`
	Ingredients    JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"ingredients"`
	Steps          JSONBSteps       `gorm:"type:jsonb;not null;default:'[]'" json:"steps"`
	Calories       float64          `gorm:"type:float" json:"calories"`
	Protein        float64          `gorm:"type:float" json:"protein"`
	Fat            float64          `gorm:"type:float" json:"fat"`
	Carbs          float64          `gorm:"type:float" json:"carbs"`
	Category       string           `gorm:"size:50" json:"category"`
	Tags           JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"tags"`
	QualityScore   *float64         `json:"quality_score,omitempty"`
	SimilarityHash string           `gorm:"size:64;index" json:"similarity_hash"`
	TitleKey       string           `gorm:"size:64;index" json:"-"`
	IngredientKey  string           `gorm:"size:64;index" json:"-"`
	Embedding      pgvector.Vector  `gorm:"type:vector(16)" json:"-"`
}

// BeforeCreate assigns an id when none is set
func (r *Recipe) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsGlobal reports whether the recipe belongs to the shared collection.
func (r *Recipe) IsGlobal() bool {
	return r.OwnerID == nil
}

// FromDraft builds a row from a draft. An unparsable draft id yields a
// zero id that BeforeCreate replaces.
func FromDraft(d *types.RecipeDraft) *Recipe {
	id, _ := uuid.Parse(d.ID)
	steps := make(JSONBSteps, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, RecipeStep{Text: s.Text, IllustrationPrompt: s.IllustrationPrompt, ImageURL: s.ImageRef})
	}
	r := &Recipe{
		ID:             id,
		RequestID:      d.RequestID,
		Title:          d.Title,
		Description:    d.Description,
		Servings:       d.Servings,
		Ingredients:    JSONBStringArray(append([]string(nil), d.Ingredients...)),
		Steps:          steps,
		Calories:       d.Nutrition.Calories,
		Protein:        d.Nutrition.Protein,
		Fat:            d.Nutrition.Fat,
		Carbs:          d.Nutrition.Carbs,
		Category:       d.Category,
		Tags:           JSONBStringArray(append([]string(nil), d.Tags...)),
		SimilarityHash: d.SimilarityHash,
	}
	if d.QualityScore != nil {
		q := *d.QualityScore
		r.QualityScore = &q
	}
	if !d.CreatedAt.IsZero() {
		r.CreatedAt = d.CreatedAt
	}
	return r
}

// ToDraft converts a stored row back into a draft
func (r *Recipe) ToDraft() *types.RecipeDraft {
	steps := make([]types.Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, types.Step{Text: s.Text, IllustrationPrompt: s.IllustrationPrompt, ImageRef: s.ImageURL})
	}
	d := &types.RecipeDraft{
		ID:             r.ID.String(),
		Title:          r.Title,
		Description:    r.Description,
		Servings:       r.Servings,
		Ingredients:    append([]string(nil), r.Ingredients...),
		Steps:          steps,
		Nutrition:      types.Nutrition{Calories: r.Calories, Protein: r.Protein, Fat: r.Fat, Carbs: r.Carbs},
		Category:       r.Category,
		Tags:           append([]string(nil), r.Tags...),
		SimilarityHash: r.SimilarityHash,
		RequestID:      r.RequestID,
		CreatedAt:      r.CreatedAt,
	}
	if r.QualityScore != nil {
		q := *r.QualityScore
		d.QualityScore = &q
	}
	return d
}
