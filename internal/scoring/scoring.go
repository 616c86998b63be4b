package scoring

import (
	"strings"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Attributes is a partial set of qualification answers keyed by dimension.
// Missing dimensions contribute zero.
type Attributes map[Dimension]string

// Score sums the contribution of every dimension and derives the tier. It is
// pure and total: unknown dimensions and values contribute zero.
func Score(attrs Attributes) domain.Score {
	total := 0
	for _, d := range Dimensions {
		v, ok := attrs[d]
		if !ok {
			continue
		}
		total += Contribution(d, v)
	}
	return domain.Score{Value: total, Tier: domain.TierFor(total)}
}

// Contribution returns the points for a single answer, accepting legacy
// synonyms.
func Contribution(d Dimension, value string) int {
	return contributions[d][Canonicalize(d, value)]
}

// Canonicalize normalises a raw answer and resolves legacy synonyms.
func Canonicalize(d Dimension, value string) string {
	v := normalizeValue(value)
	if alias, ok := valueAliases[d][v]; ok {
		return alias
	}
	return v
}

// ParseDimension resolves a raw dimension name, including aliases. The second
// result is false for names that are not a qualification dimension.
func ParseDimension(raw string) (Dimension, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, d := range Dimensions {
		if string(d) == key {
			return d, true
		}
	}
	d, ok := dimensionAliases[strings.ReplaceAll(key, "_", "")]
	return d, ok
}

func normalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "_", "-")
	return strings.Join(strings.Fields(v), "-")
}
