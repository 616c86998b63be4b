package domain

import (
	"strings"
	"time"
)

// Reserved tag labels written by the engine itself.
const (
	LabelLeadScore        = "lead_score"
	LabelLeadTier         = "lead_tier"
	LabelAssignedResource = "assigned_resource"
	LabelNiche            = "niche"

	QualificationPrefix = "qualification:"
	NichePrefix         = "niche:"
	OutreachPrefix      = "outreach:"
)

// Tag is a timestamped fact about a subject. Value is optional.
type Tag struct {
	SubjectID string    `json:"subject_id" db:"subject_id"`
	Label     string    `json:"label" db:"label"`
	Value     string    `json:"value,omitempty" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NormalizeLabel trims and lowercases a label so every writer and reader
// agrees on one spelling.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Latest returns the most recent tag with the given label from an unordered
// slice, or nil. Later CreatedAt wins; on equal timestamps the later element
// in the slice wins.
func Latest(tags []Tag, label string) *Tag {
	var best *Tag
	for i := range tags {
		if tags[i].Label != label {
			continue
		}
		if best == nil || !tags[i].CreatedAt.Before(best.CreatedAt) {
			best = &tags[i]
		}
	}
	return best
}
