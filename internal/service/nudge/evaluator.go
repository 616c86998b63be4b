package nudge

import (
	"fmt"
	"math"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Evaluator selects rules for activity snapshots. It holds no state beyond
// the rule table and is safe for concurrent use.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator validates rules and keeps their order for tie-breaking.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &Evaluator{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns a copy of the table.
func (e *Evaluator) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// Match returns every rule whose condition holds, in definition order.
func (e *Evaluator) Match(snap domain.ActivitySnapshot, now time.Time) []Rule {
	var out []Rule
	for _, r := range e.rules {
		if matches(r, snap, now) {
			out = append(out, r)
		}
	}
	return out
}

// Evaluate returns the single rule to act on, or nil. Highest priority wins;
// equal priorities resolve to the earlier definition.
func (e *Evaluator) Evaluate(snap domain.ActivitySnapshot, now time.Time) *Rule {
	var best *Rule
	for i := range e.rules {
		r := &e.rules[i]
		if !matches(*r, snap, now) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func since(t *time.Time, now time.Time) (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	return now.Sub(*t), true
}

func matches(r Rule, snap domain.ActivitySnapshot, now time.Time) bool {
	if r.ProgressThreshold != nil && r.Condition != ConditionNotStarted &&
		snap.ProgressPercent < *r.ProgressThreshold {
		return false
	}

	switch r.Condition {
	case ConditionNoRecentLogin:
		elapsed, ok := since(snap.LastLoginAt, now)
		return ok && elapsed >= r.MinElapsed

	case ConditionStalledNearCompletion:
		if snap.ProgressPercent >= 100 || snap.CompletedToday {
			return false
		}
		if r.ProgressThreshold == nil && snap.ProgressPercent < defaultStallThreshold {
			return false
		}
		elapsed, ok := since(snap.LastCompletedAt, now)
		return ok && elapsed >= r.MinElapsed

	case ConditionCompletedUnitRecently:
		elapsed, ok := since(snap.LastCompletedAt, now)
		window := r.Within
		if window == 0 {
			window = defaultRecentWindow
		}
		return ok && elapsed >= 0 && elapsed <= window

	case ConditionNotStarted:
		if snap.LastCompletedAt != nil || snap.ProgressPercent > 0 {
			return false
		}
		elapsed, ok := since(snap.LastLoginAt, now)
		return ok && elapsed >= r.MinElapsed
	}
	return false
}

// templateVars is the Liquid context for nudge templates.
func templateVars(snap domain.ActivitySnapshot, now time.Time) map[string]any {
	vars := map[string]any{
		"first_name": snap.FirstName,
		"email":      snap.Email,
		"progress":   int(math.Round(snap.ProgressPercent)),
		"next_unit":  snap.NextUnitTitle,
		"last_unit":  snap.LastCompletedUnit,
	}
	if elapsed, ok := since(snap.LastLoginAt, now); ok {
		vars["days_since_login"] = int(elapsed / day)
	}
	return vars
}
