package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

var validate = validator.New()

// ServingsType accepts servings as a number, a string such as "4-6", or an
// object with a Value field.
type ServingsType struct {
	Value int
}

func (s *ServingsType) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		s.Value = int(num)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Value = leadingInt(str)
		return nil
	}

	var obj struct {
		Value json.RawMessage `json:"Value"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && len(obj.Value) > 0 {
		return s.UnmarshalJSON(obj.Value)
	}

	return fmt.Errorf("invalid servings format")
}

func leadingInt(s string) int {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[start:end])
	return n
}

// stepList accepts steps as plain strings or as objects
type stepList []types.Step

func (l *stepList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(stepList, 0, len(items))
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			out = append(out, types.Step{Text: strings.TrimSpace(text)})
			continue
		}
		var obj struct {
			Text                string `json:"text"`
			Instruction         string `json:"instruction"`
			IllustrationPrompt  string `json:"illustration_prompt"`
			IllustrationPrompt2 string `json:"illustrationPrompt"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("invalid step: %w", err)
		}
		step := types.Step{Text: firstNonEmpty(obj.Text, obj.Instruction)}
		step.IllustrationPrompt = firstNonEmpty(obj.IllustrationPrompt, obj.IllustrationPrompt2)
		out = append(out, step)
	}
	*l = out
	return nil
}

type nutritionFields struct {
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Fat      *float64 `json:"fat"`
	Carbs    *float64 `json:"carbs"`
}

type rawRecipe struct {
	Title        string           `json:"title"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Servings     ServingsType     `json:"servings"`
	Ingredients  []string         `json:"ingredients"`
	Steps        stepList         `json:"steps"`
	Instructions stepList         `json:"instructions"`
	Nutrition    *nutritionFields `json:"nutrition"`
	Category     string           `json:"category"`
	Tags         []string         `json:"tags"`
}

type recipeShape struct {
	Title       string      `validate:"required"`
	Ingredients []string    `validate:"min=1,dive,required"`
	Steps       []stepShape `validate:"min=1,dive"`
}

type stepShape struct {
	Text string `validate:"required"`
}

// ParsedRecipe is a validated draft plus what the output carried
type ParsedRecipe struct {
	Draft *types.RecipeDraft
	// HasNutrition is true when all four nutrition numbers were present and usable
	HasNutrition bool
}

// ParseRecipe turns model output into a draft. Structural problems are
// reported as validation errors.
func ParseRecipe(raw string) (*ParsedRecipe, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	var r rawRecipe
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("malformed recipe JSON: %v", err))
	}

	steps := r.Steps
	if len(steps) == 0 {
		steps = r.Instructions
	}
	draft := &types.RecipeDraft{
		Title:       strings.TrimSpace(firstNonEmpty(r.Title, r.Name)),
		Description: strings.TrimSpace(r.Description),
		Servings:    r.Servings.Value,
		Ingredients: trimAll(r.Ingredients),
		Steps:       []types.Step(steps),
		Category:    strings.TrimSpace(r.Category),
		Tags:        normalizeTags(r.Tags),
	}

	shape := recipeShape{Title: draft.Title, Ingredients: draft.Ingredients}
	for _, s := range draft.Steps {
		shape.Steps = append(shape.Steps, stepShape{Text: s.Text})
	}
	if err := validate.Struct(shape); err != nil {
		return nil, apperrors.NewValidationError(describeValidation(err))
	}

	parsed := &ParsedRecipe{Draft: draft}
	if n := r.Nutrition; n != nil && n.Calories != nil && n.Protein != nil && n.Fat != nil && n.Carbs != nil {
		nutrition := types.Nutrition{Calories: *n.Calories, Protein: *n.Protein, Fat: *n.Fat, Carbs: *n.Carbs}
		if nutrition.WellFormed() {
			draft.Nutrition = nutrition
			parsed.HasNutrition = true
		}
	}
	return parsed, nil
}

// extractJSON returns the outermost JSON object in s, ignoring code fences
// and surrounding prose.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe)))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", fieldName(fe), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldName(fe), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping at most
// MaxTags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
