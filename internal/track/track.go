// Package track models the tracking rule sets that decide which field-level
// changes become audit trail entries and how they are described. Rule sets
// are loaded once per entity type and treated as immutable configuration.
package track

import "sync"

// Event filters when a rule applies.
type Event int

const (
	// EventDefault falls back to the rule set's default event.
	EventDefault Event = iota
	EventCreate
	EventUpdate
	EventAlways
)

var eventNames = map[string]Event{
	"":        EventDefault,
	"default": EventDefault,
	"create":  EventCreate,
	"update":  EventUpdate,
	"always":  EventAlways,
}

// EventOf resolves an event by its configuration name.
func EventOf(name string) Event {
	return eventNames[name]
}

// Matches reports whether a declared event covers a target event. EventAlways
// covers everything.
func (e Event) Matches(target Event) bool {
	return e == target || e == EventAlways
}

// Field is a field-level tracking rule.
type Field struct {
	// Name is the tracked field. For custom fields it is the key inside the
	// JSON container field.
	Name      string
	Title     string
	Condition string
	On        Event
	// CustomField marks fields stored inside a JSON blob; JSONField names the
	// container field holding the blob.
	CustomField bool
	JSONField   string
}

// Message is a template producing a title, a long-form content or a tag.
// Entries with a non-blank Tag contribute tags; the others contribute
// title/content text.
type Message struct {
	Fields    []string
	Condition string
	Message   string
	Tag       string
	On        Event
}

// Model is the complete rule set of one entity type.
type Model struct {
	Name      string
	On        Event
	Subscribe bool
	Fields    []Field
	Messages  []Message
	Contents  []Message
}

// FieldEvent resolves a field rule's effective event, falling back to the
// rule set default.
func (m *Model) FieldEvent(f Field) Event {
	if f.On == EventDefault {
		return m.On
	}
	return f.On
}

// MessageEvent resolves a message template's effective event, falling back to
// the rule set default.
func (m *Model) MessageEvent(msg Message) Event {
	if msg.On == EventDefault {
		return m.On
	}
	return msg.On
}

// Rules is a thread-safe registry of rule sets keyed by model name.
type Rules struct {
	mu     sync.RWMutex
	models map[string]*Model
}

func NewRules() *Rules {
	return &Rules{models: make(map[string]*Model)}
}

// Register adds or replaces the rule set of a model.
func (r *Rules) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// Find returns the rule set for a model, or nil when the model is untracked.
func (r *Rules) Find(model string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[model]
}

// All returns every registered rule set.
func (r *Rules) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}
