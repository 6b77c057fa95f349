package ai

import (
	"fmt"
	"strings"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

const maxImagePromptLength = 900

const recipeSystemPrompt = `You are a professional chef and nutritionist. Respond with a single JSON object and nothing else:
{
    "title": "Recipe name",
    "description": "Brief description of the recipe",
    "servings": 4,
    "ingredients": ["2 cups flour", "1 cup sugar", "3 eggs"],
    "steps": [
        {"text": "Mix the dry ingredients", "illustration_prompt": "a bowl of flour and sugar being whisked"}
    ],
    "nutrition": {"calories": 350, "protein": 15, "fat": 12, "carbs": 45},
    "category": "Main Course",
    "tags": ["comfort food"]
}
Nutrition values are per serving and must be numbers, not strings.`

const qualitySystemPrompt = `You review recipes. Score the recipe from 0 to 10 on completeness, clarity and consistency, and give an overall score.
Respond with a single JSON object: {"completeness": 8, "clarity": 7, "consistency": 9, "overall": 8, "reasons": ["..."]}`

const classifySystemPrompt = `You categorize recipes. Choose exactly one category from: Main Course, Dessert, Snack, Appetizer, Breakfast, Soup, Salad, Side Dish, Beverage, Bread.
Add up to 5 short lowercase tags. Respond with a single JSON object: {"category": "Main Course", "tags": ["italian", "vegetarian"]}`

const nutritionSystemPrompt = `You are a nutritionist. Estimate nutrition per serving for the recipe.
Respond with a single JSON object of numbers: {"calories": 350, "protein": 15, "fat": 12, "carbs": 45}`

// BuildGenerationPrompt renders the user prompt for a new recipe
func BuildGenerationPrompt(query string, prefs *types.UserPreferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a recipe for: %s", query)
	if prefs.Empty() {
		return b.String()
	}
	if len(prefs.DietaryRestrictions) > 0 {
		b.WriteString(". The recipe should be suitable for: " + strings.Join(prefs.DietaryRestrictions, ", "))
	}
	if len(prefs.Allergens) > 0 {
		b.WriteString(". Avoid using: " + strings.Join(prefs.Allergens, ", "))
	}
	if len(prefs.Cuisines) > 0 {
		b.WriteString(". Preferred cuisines: " + strings.Join(prefs.Cuisines, ", "))
	}
	if prefs.Notes != "" {
		b.WriteString(". Notes: " + prefs.Notes)
	}
	return b.String()
}

// BuildEnhancementPrompt asks for one improved rewrite of a weak draft
func BuildEnhancementPrompt(draft *types.RecipeDraft, q *types.QualityAssessment) string {
	var b strings.Builder
	b.WriteString("Improve this recipe so it is complete, clear and internally consistent. Keep the same dish.\n\n")
	b.WriteString(describeDraft(draft))
	if q != nil && len(q.Reasons) > 0 {
		b.WriteString("\nReviewer notes:\n- " + strings.Join(q.Reasons, "\n- "))
	}
	return b.String()
}

// BuildIllustrationPrompt describes one step as a food photograph
func BuildIllustrationPrompt(draft *types.RecipeDraft, index int) string {
	step := draft.Steps[index]
	subject := step.IllustrationPrompt
	if subject == "" {
		subject = step.Text
	}
	prompt := fmt.Sprintf(
		"A professional food photography shot of step %d of %s: %s, shot with natural lighting, shallow depth of field, restaurant quality presentation, appetizing colors",
		index+1, strings.ToLower(draft.Title), strings.ToLower(subject),
	)
	if len(prompt) > maxImagePromptLength {
		prompt = prompt[:maxImagePromptLength]
	}
	return prompt
}

func describeDraft(d *types.RecipeDraft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", d.Title)
	if d.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.Description)
	}
	fmt.Fprintf(&b, "Servings: %d\n", d.Servings)
	b.WriteString("Ingredients:\n")
	for _, ing := range d.Ingredients {
		b.WriteString("- " + ing + "\n")
	}
	b.WriteString("Steps:\n")
	for i, s := range d.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Text)
	}
	return b.String()
}
