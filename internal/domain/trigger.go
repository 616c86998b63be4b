package domain

import "strings"

// TriggerKind discriminates the closed set of trigger variants.
type TriggerKind string

const (
	TriggerTagAdded       TriggerKind = "tag_added"
	TriggerLifecycleEvent TriggerKind = "lifecycle_event"
)

// Trigger is a closed variant: TagAdded or LifecycleEvent. The unexported
// method keeps other packages from adding variants.
type Trigger interface {
	Kind() TriggerKind
	// Key is the registry lookup key within the kind.
	Key() string
	isTrigger()
}

// TagAdded fires when a tag with Label is written for a subject.
type TagAdded struct {
	Label string `json:"label" yaml:"label"`
}

func (TagAdded) Kind() TriggerKind { return TriggerTagAdded }
func (t TagAdded) Key() string     { return NormalizeLabel(t.Label) }
func (TagAdded) isTrigger()        {}

// LifecycleEvent fires on a named application event, e.g. "purchase" in
// namespace "course:foundations". An empty Namespace on a definition matches
// any namespace.
type LifecycleEvent struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

func (LifecycleEvent) Kind() TriggerKind { return TriggerLifecycleEvent }
func (e LifecycleEvent) Key() string     { return strings.ToLower(strings.TrimSpace(e.Name)) }
func (LifecycleEvent) isTrigger()        {}

// TriggerMatches reports whether a definition's trigger fires for the given
// event.
func TriggerMatches(def, fired Trigger) bool {
	if def == nil || fired == nil || def.Kind() != fired.Kind() {
		return false
	}
	if def.Key() == "" || def.Key() != fired.Key() {
		return false
	}
	if d, ok := def.(LifecycleEvent); ok {
		f := fired.(LifecycleEvent)
		ns := strings.ToLower(strings.TrimSpace(d.Namespace))
		return ns == "" || ns == strings.ToLower(strings.TrimSpace(f.Namespace))
	}
	return true
}

// TriggerSpec is the flat, storable form of a Trigger used by YAML files,
// database rows and the HTTP API.
type TriggerSpec struct {
	Type      TriggerKind `json:"type" yaml:"type"`
	Value     string      `json:"value" yaml:"value"`
	Namespace string      `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// Trigger converts a TriggerSpec into its variant. Unknown types yield nil.
func (s TriggerSpec) Trigger() Trigger {
	switch s.Type {
	case TriggerTagAdded:
		return TagAdded{Label: s.Value}
	case TriggerLifecycleEvent:
		return LifecycleEvent{Name: s.Value, Namespace: s.Namespace}
	}
	return nil
}

// SpecOf flattens a Trigger.
func SpecOf(t Trigger) TriggerSpec {
	switch v := t.(type) {
	case TagAdded:
		return TriggerSpec{Type: TriggerTagAdded, Value: v.Label}
	case LifecycleEvent:
		return TriggerSpec{Type: TriggerLifecycleEvent, Value: v.Name, Namespace: v.Namespace}
	}
	return TriggerSpec{}
}
