package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Channel names understood by the send capability.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Delay is the wait between the previous send and a step.
type Delay struct {
	Days    int `json:"days" yaml:"days"`
	Hours   int `json:"hours" yaml:"hours"`
	Minutes int `json:"minutes" yaml:"minutes"`
}

// Duration converts the delay to a time.Duration.
func (d Delay) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// StepDefinition is one message in a sequence. Subject and Body are Liquid
// templates.
type StepDefinition struct {
	Position int    `json:"position" yaml:"position"`
	Subject  string `json:"subject" yaml:"subject"`
	Body     string `json:"body" yaml:"body"`
	Delay    Delay  `json:"delay" yaml:"delay"`
	Active   bool   `json:"active" yaml:"active"`
}

// SequenceDefinition is a drip sequence. Definitions are read-only inputs to
// the enrollment state machine.
type SequenceDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Active      bool             `json:"active"`
	Trigger     Trigger          `json:"-"`
	ExitTag     string           `json:"exit_tag,omitempty"`
	ExitOnReply bool             `json:"exit_on_reply"`
	ExitOnClick bool             `json:"exit_on_click"`
	Channel     string           `json:"channel"`
	Steps       []StepDefinition `json:"steps"`
}

// Validation errors for sequence definitions.
var (
	ErrDefinitionNoID      = errors.New("sequence has no id")
	ErrDefinitionNoName    = errors.New("sequence has no name")
	ErrDefinitionNoTrigger = errors.New("sequence has no usable trigger")
)

// Validate reports every structural problem with the definition.
func (s *SequenceDefinition) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, ErrDefinitionNoID)
	}
	if s.Name == "" {
		errs = append(errs, ErrDefinitionNoName)
	}
	if s.Trigger == nil || s.Trigger.Key() == "" {
		errs = append(errs, ErrDefinitionNoTrigger)
	}
	seen := make(map[int]bool, len(s.Steps))
	for _, st := range s.Steps {
		if seen[st.Position] {
			errs = append(errs, fmt.Errorf("duplicate step position %d", st.Position))
		}
		seen[st.Position] = true
		if st.Subject == "" && st.Body == "" {
			errs = append(errs, fmt.Errorf("step %d has no content", st.Position))
		}
		if st.Delay.Days < 0 || st.Delay.Hours < 0 || st.Delay.Minutes < 0 {
			errs = append(errs, fmt.Errorf("step %d has a negative delay", st.Position))
		}
	}
	return errors.Join(errs...)
}

// ActiveSteps returns the active steps ordered by position.
func (s *SequenceDefinition) ActiveSteps() []StepDefinition {
	out := make([]StepDefinition, 0, len(s.Steps))
	for _, st := range s.Steps {
		if st.Active {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// FirstActiveStep returns the lowest-positioned active step.
func (s *SequenceDefinition) FirstActiveStep() (StepDefinition, bool) {
	steps := s.ActiveSteps()
	if len(steps) == 0 {
		return StepDefinition{}, false
	}
	return steps[0], true
}

// NextActiveStep returns the first active step positioned after pos.
func (s *SequenceDefinition) NextActiveStep(pos int) (StepDefinition, bool) {
	for _, st := range s.ActiveSteps() {
		if st.Position > pos {
			return st, true
		}
	}
	return StepDefinition{}, false
}

// StepAt returns the step at the given position regardless of its flag.
func (s *SequenceDefinition) StepAt(pos int) (StepDefinition, bool) {
	for _, st := range s.Steps {
		if st.Position == pos {
			return st, true
		}
	}
	return StepDefinition{}, false
}

// ChannelOrDefault returns the configured channel, defaulting to email.
func (s *SequenceDefinition) ChannelOrDefault() string {
	if s.Channel == "" {
		return ChannelEmail
	}
	return s.Channel
}
