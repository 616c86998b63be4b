package scoring

import (
	"strings"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// QualificationTag splits a qualification tag into dimension and canonical
// value. It accepts both `qualification:<dim>` with a value and the
// three-segment `qualification:<dim>:<value>` label.
func QualificationTag(label, value string) (Dimension, string, bool) {
	label = domain.NormalizeLabel(label)
	if !strings.HasPrefix(label, domain.QualificationPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(label, domain.QualificationPrefix)
	dimRaw, inline, hasInline := strings.Cut(rest, ":")
	d, ok := ParseDimension(dimRaw)
	if !ok {
		return "", "", false
	}
	if hasInline && inline != "" {
		value = inline
	}
	if strings.TrimSpace(value) == "" {
		return "", "", false
	}
	return d, Canonicalize(d, value), true
}

// FromTags derives attributes from a tag snapshot. The most recent answer per
// dimension wins.
func FromTags(tags []domain.Tag) Attributes {
	attrs := make(Attributes)
	seenAt := make(map[Dimension]int)
	for i, t := range tags {
		d, v, ok := QualificationTag(t.Label, t.Value)
		if !ok {
			continue
		}
		if prev, seen := seenAt[d]; seen && tags[prev].CreatedAt.After(t.CreatedAt) {
			continue
		}
		seenAt[d] = i
		attrs[d] = v
	}
	return attrs
}

// ScoreTags is FromTags followed by Score.
func ScoreTags(tags []domain.Tag) domain.Score {
	return Score(FromTags(tags))
}
