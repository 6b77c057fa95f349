package dedupe

import (
	"sort"
	"strings"
	"unicode"
)

var units = wordSet(
	"c", "cup", "cups", "tablespoon", "tablespoons", "tbsp", "tbs", "tsp", "teaspoon", "teaspoons",
	"g", "gram", "grams", "kg", "kilogram", "kilograms", "mg", "ml", "milliliter", "milliliters",
	"l", "liter", "liters", "litre", "litres", "oz", "ounce", "ounces", "lb", "lbs", "pound", "pounds",
	"pinch", "pinches", "dash", "dashes", "clove", "cloves", "can", "cans", "package", "packages", "pkg",
	"slice", "slices", "stick", "sticks", "sprig", "sprigs", "bunch", "bunches", "handful", "handfuls",
	"piece", "pieces", "quart", "quarts", "qt", "pint", "pints", "pt", "inch", "inches", "jar", "jars",
)

var descriptors = wordSet(
	"large", "medium", "small", "whole", "chopped", "diced", "minced", "sliced", "grated", "shredded",
	"fresh", "freshly", "ground", "crushed", "peeled", "finely", "roughly", "thinly", "to", "taste",
	"optional", "divided", "of", "and", "or", "a", "an", "the", "for", "about", "cooked", "uncooked",
	"softened", "melted", "room", "temperature", "packed", "plus", "more", "extra", "few", "some",
)

var titleStopwords = wordSet(
	"a", "an", "the", "with", "and", "of", "in", "on", "style", "easy", "quick", "best",
	"homemade", "simple", "recipe", "classic", "my", "perfect",
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// words lowercases s and splits it on anything that is not a letter.
// Digits and fraction glyphs disappear here.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// MainIngredient reduces an ingredient line to its core name:
// "2 cups finely chopped yellow onions, divided" becomes "yellow onion".
func MainIngredient(line string) string {
	line = stripParenthesized(line)
	// notes after a comma are not part of the name
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	var kept []string
	for _, w := range words(line) {
		if _, ok := units[w]; ok {
			continue
		}
		if _, ok := descriptors[w]; ok {
			continue
		}
		kept = append(kept, singular(w))
	}
	return strings.Join(kept, " ")
}

func stripParenthesized(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MainIngredients returns the sorted, de-duplicated main ingredient names.
func MainIngredients(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		name := MainIngredient(line)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TitleTokens returns the sorted, de-duplicated significant words of a title.
func TitleTokens(title string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words(title) {
		if _, ok := titleStopwords[w]; ok {
			continue
		}
		w = singular(w)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
