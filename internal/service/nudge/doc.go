// Package nudge evaluates behavioral rules against a subject's learning
// activity and sends at most one nudge per subject per tick.
//
// Evaluation is two-phase. Evaluate is pure: it picks the single most urgent
// matching rule (priority 5 beats 1, ties go to definition order). The
// service then consults the outreach ledger; a rule still inside its cooldown
// window suppresses the nudge entirely rather than falling back to a less
// urgent rule.
package nudge
