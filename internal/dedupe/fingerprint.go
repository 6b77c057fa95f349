// Package dedupe finds and merges near-duplicate recipes.
//
// The live pipeline and the offline reconciler share MergeThreshold so both
// apply the same duplicate policy.
package dedupe

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MergeThreshold is the Jaccard similarity of main ingredients at or above
// which two recipes are the same recipe.
const MergeThreshold = 0.85

// EmbeddingDimensions is the width of the feature-hashed ingredient vector.
const EmbeddingDimensions = 16

// Fingerprint identifies a recipe for cheap candidate lookup
type Fingerprint struct {
	Hash          string
	TitleKey      string
	IngredientKey string
	Ingredients   []string
	Embedding     []float32
}

// Compute fingerprints a draft. It is deterministic and ignores the order
// of ingredient lines.
func Compute(d *types.RecipeDraft) Fingerprint {
	title := TitleTokens(d.Title)
	ingredients := MainIngredients(d.Ingredients)

	fp := Fingerprint{
		Ingredients: ingredients,
		Embedding:   Embed(ingredients),
	}
	if len(title) > 0 {
		fp.TitleKey = digest(strings.Join(title, " "))
	}
	if len(ingredients) > 0 {
		fp.IngredientKey = digest(strings.Join(ingredients, "|"))
	}
	fp.Hash = digest(strings.Join(title, " ") + "\x00" + strings.Join(ingredients, "|"))
	return fp
}

func digest(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// Embed feature-hashes ingredient names into a unit vector so nearby
// recipes can be found by vector distance.
func Embed(ingredients []string) []float32 {
	vec := make([]float32, EmbeddingDimensions)
	for _, name := range ingredients {
		for _, w := range strings.Fields(name) {
			sum := blake2b.Sum256([]byte(w))
			bucket := binary.BigEndian.Uint32(sum[:4]) % EmbeddingDimensions
			if sum[4]&1 == 0 {
				vec[bucket]++
			} else {
				vec[bucket]--
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Jaccard returns |a∩b| / |a∪b| over the distinct elements of a and b.
// Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}

	union := len(setA)
	inter := 0
	for v := range setB {
		if _, ok := setA[v]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
