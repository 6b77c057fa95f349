package types

import (
	"math"
	"time"
)

// Step is one instruction of a recipe. An empty ImageRef means the step has
// no illustration yet.
type Step struct {
	Text               string `json:"text"`
	IllustrationPrompt string `json:"illustrationPrompt,omitempty"`
	ImageRef           string `json:"imageRef,omitempty"`
}

// Nutrition per serving
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
}

// IsZero reports whether no nutrition value is set.
func (n Nutrition) IsZero() bool {
	return n.Calories == 0 && n.Protein == 0 && n.Fat == 0 && n.Carbs == 0
}

// WellFormed reports whether the numbers are usable as-is: all finite,
// none negative and not all zero.
func (n Nutrition) WellFormed() bool {
	for _, v := range []float64{n.Calories, n.Protein, n.Fat, n.Carbs} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return !n.IsZero()
}

// RecipeDraft is the work-in-progress recipe carried through the pipeline.
type RecipeDraft struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Servings       int       `json:"servings"`
	Ingredients    []string  `json:"ingredients"`
	Steps          []Step    `json:"steps"`
	Nutrition      Nutrition `json:"nutrition"`
	Category       string    `json:"category,omitempty"`
	Tags           []string  `json:"tags"`
	QualityScore   *float64  `json:"qualityScore,omitempty"`
	SimilarityHash string    `json:"similarityHash,omitempty"`
	RequestID      string    `json:"requestId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Clone returns a deep copy so snapshots never alias the live draft.
func (d *RecipeDraft) Clone() *RecipeDraft {
	if d == nil {
		return nil
	}
	c := *d
	c.Ingredients = append([]string(nil), d.Ingredients...)
	c.Steps = append([]Step(nil), d.Steps...)
	c.Tags = append([]string(nil), d.Tags...)
	if d.QualityScore != nil {
		q := *d.QualityScore
		c.QualityScore = &q
	}
	return &c
}

// IllustratedSteps counts steps that carry an image.
func (d *RecipeDraft) IllustratedSteps() int {
	n := 0
	for _, s := range d.Steps {
		if s.ImageRef != "" {
			n++
		}
	}
	return n
}

// LooksFinal reports whether the draft went through quality scoring and
// duplicate fingerprinting.
func (d *RecipeDraft) LooksFinal() bool {
	return d != nil && d.QualityScore != nil && d.SimilarityHash != ""
}

// Classification is the category and tags assigned to a draft
type Classification struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// QualityPassingScore is the overall score at or above which no
// enhancement is requested.
const QualityPassingScore = 7.0

// QualityAssessment scores a draft on a 0-10 scale
type QualityAssessment struct {
	Completeness     float64  `json:"completeness"`
	Clarity          float64  `json:"clarity"`
	Consistency      float64  `json:"consistency"`
	Overall          float64  `json:"overall"`
	Reasons          []string `json:"reasons"`
	PassingThreshold bool     `json:"passingThreshold"`
}

// Normalize clamps every score into [0, 10] and derives PassingThreshold.
func (q *QualityAssessment) Normalize() {
	clamp := func(v float64) float64 {
		if math.IsNaN(v) || v < 0 {
			return 0
		}
		if v > 10 {
			return 10
		}
		return v
	}
	q.Completeness = clamp(q.Completeness)
	q.Clarity = clamp(q.Clarity)
	q.Consistency = clamp(q.Consistency)
	q.Overall = clamp(q.Overall)
	q.PassingThreshold = q.Overall >= QualityPassingScore
}

// DuplicateResult is the outcome of a duplicate lookup
type DuplicateResult struct {
	IsDuplicate     bool    `json:"isDuplicate"`
	ExistingID      string  `json:"existingId,omitempty"`
	SimilarityScore float64 `json:"similarityScore"`
}
