package nudge

import (
	"errors"
	"fmt"
	"time"
)

// Condition is the behavioral pattern a rule matches.
type Condition string

const (
	ConditionNoRecentLogin         Condition = "no_recent_login"
	ConditionStalledNearCompletion Condition = "stalled_near_completion"
	ConditionCompletedUnitRecently Condition = "completed_unit_recently"
	ConditionNotStarted            Condition = "not_started"
)

const (
	MinPriority = 1
	MaxPriority = 5

	day = 24 * time.Hour

	defaultStallThreshold = 75.0
	defaultRecentWindow   = day
)

// Rule is one row of the nudge rule table.
type Rule struct {
	ID        string
	Condition Condition
	// MinElapsed is the time that must have passed since the relevant
	// activity (login or last completion).
	MinElapsed time.Duration
	// Within bounds completed_unit_recently.
	Within time.Duration
	// ProgressThreshold, when set, is the minimum progress percentage.
	ProgressThreshold *float64
	Priority          int
	// Cooldown defaults from Priority when zero.
	Cooldown time.Duration
	Subject  string
	Template string
}

// DefaultCooldown maps priority to the minimum gap between two nudges of
// the same rule: 5->1d, 4->2d, 3->3d, 2->5d, 1->7d.
func DefaultCooldown(priority int) time.Duration {
	switch {
	case priority >= 5:
		return day
	case priority == 4:
		return 2 * day
	case priority == 3:
		return 3 * day
	case priority == 2:
		return 5 * day
	default:
		return 7 * day
	}
}

// EffectiveCooldown returns the configured cooldown or the priority default.
func (r Rule) EffectiveCooldown() time.Duration {
	if r.Cooldown > 0 {
		return r.Cooldown
	}
	return DefaultCooldown(r.Priority)
}

// Validate checks a rule loaded from configuration.
func (r Rule) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("rule has no id"))
	}
	switch r.Condition {
	case ConditionNoRecentLogin, ConditionStalledNearCompletion, ConditionCompletedUnitRecently, ConditionNotStarted:
	default:
		errs = append(errs, fmt.Errorf("rule %s: unknown condition %q", r.ID, r.Condition))
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		errs = append(errs, fmt.Errorf("rule %s: priority %d outside %d..%d", r.ID, r.Priority, MinPriority, MaxPriority))
	}
	if r.MinElapsed < 0 || r.Within < 0 || r.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("rule %s: negative duration", r.ID))
	}
	if r.Template == "" {
		errs = append(errs, fmt.Errorf("rule %s: empty template", r.ID))
	}
	return errors.Join(errs...)
}

func threshold(v float64) *float64 { return &v }

// DefaultRules is the built-in rule table, in definition order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:                "stalled_near_finish",
			Condition:         ConditionStalledNearCompletion,
			MinElapsed:        3 * day,
			ProgressThreshold: threshold(defaultStallThreshold),
			Priority:          5,
			Subject:           "You're almost there, {{ first_name | default: 'friend' }}",
			Template:          "You're {{ progress }}% through the program. {% if next_unit != '' %}Next up: {{ next_unit }}.{% endif %} One more push and you're done.",
		},
		{
			ID:         "inactive_14_days",
			Condition:  ConditionNoRecentLogin,
			MinElapsed: 14 * day,
			Priority:   4,
			Subject:    "We saved your spot",
			Template:   "Hi {{ first_name | default: 'there' }}, it has been {{ days_since_login }} days since you last logged in. Your progress is waiting for you.",
		},
		{
			ID:         "inactive_7_days",
			Condition:  ConditionNoRecentLogin,
			MinElapsed: 7 * day,
			Priority:   3,
			Subject:    "Pick up where you left off",
			Template:   "Hi {{ first_name | default: 'there' }}, you haven't logged in for a week.{% if next_unit != '' %} {{ next_unit }} is ready when you are.{% endif %}",
		},
		{
			ID:         "not_started",
			Condition:  ConditionNotStarted,
			MinElapsed: 2 * day,
			Priority:   3,
			Subject:    "Your first lesson is waiting",
			Template:   "Hi {{ first_name | default: 'there' }}, the first lesson takes about fifteen minutes.{% if next_unit != '' %} Start with {{ next_unit }}.{% endif %}",
		},
		{
			ID:         "inactive_3_days",
			Condition:  ConditionNoRecentLogin,
			MinElapsed: 3 * day,
			Priority:   2,
			Subject:    "Quick check-in",
			Template:   "Hi {{ first_name | default: 'there' }}, a few minutes today keeps the momentum going.",
		},
		{
			ID:        "unit_completed",
			Condition: ConditionCompletedUnitRecently,
			Within:    defaultRecentWindow,
			Priority:  1,
			Subject:   "Nice work on {{ last_unit }}",
			Template:  "You just finished {{ last_unit }}. {% if next_unit != '' %}{{ next_unit }} is next.{% endif %}",
		},
	}
}
