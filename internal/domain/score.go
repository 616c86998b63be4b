package domain

// Tier is the coarse lead-temperature bucket derived from a score.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Score thresholds. Comparisons are inclusive (>=).
const (
	HotThreshold  = 130
	WarmThreshold = 80
)

// Score is a derived lead score and its tier.
type Score struct {
	Value int  `json:"score"`
	Tier  Tier `json:"tier"`
}

// TierFor maps a numeric score to its tier.
func TierFor(score int) Tier {
	switch {
	case score >= HotThreshold:
		return TierHot
	case score >= WarmThreshold:
		return TierWarm
	default:
		return TierCold
	}
}
