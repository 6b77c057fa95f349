package testutil

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// DraftFactory builds realistic drafts. A fixed seed gives repeatable data.
type DraftFactory struct {
	faker *gofakeit.Faker
}

func NewDraftFactory(seed int64) *DraftFactory {
	return &DraftFactory{faker: gofakeit.New(seed)}
}

// Draft returns a draft with the given number of steps and no images
func (f *DraftFactory) Draft(steps int) *types.RecipeDraft {
	d := &types.RecipeDraft{
		ID:          uuid.NewString(),
		Title:       f.faker.Dinner(),
		Description: f.faker.Sentence(12),
		Servings:    f.faker.IntRange(2, 8),
		RequestID:   uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Tags:        []string{},
	}
	for i := 0; i < 5; i++ {
		d.Ingredients = append(d.Ingredients, fmt.Sprintf("%d cups %s", f.faker.IntRange(1, 4), f.faker.Vegetable()))
	}
	for i := 0; i < steps; i++ {
		d.Steps = append(d.Steps, types.Step{
			Text:               f.faker.Sentence(10),
			IllustrationPrompt: f.faker.Sentence(6),
		})
	}
	return d
}

// Request returns a generation request for query
func (f *DraftFactory) Request(query string) *types.GenerationRequest {
	return &types.GenerationRequest{
		RequestID:        uuid.NewString(),
		Query:            query,
		SubscriptionTier: types.TierFree,
		CreatedAt:        time.Now().UTC(),
	}
}
