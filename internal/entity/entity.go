// Package entity describes domain entity types to the audit pipeline: field
// kinds, display titles, name fields and type adaptation. The pipeline never
// reflects over real domain structs; it works against descriptors registered
// here and the generic Record carrier.
package entity

import (
	"strings"
	"sync"
)

// Kind is the semantic kind of an entity field.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindBoolean
	KindInteger
	KindDecimal
	KindDate
	KindDateTime
	KindReference
	KindCollection
	KindBinary
	KindJSON
)

var kindNames = map[string]Kind{
	"string":     KindString,
	"text":       KindText,
	"boolean":    KindBoolean,
	"integer":    KindInteger,
	"decimal":    KindDecimal,
	"date":       KindDate,
	"datetime":   KindDateTime,
	"reference":  KindReference,
	"collection": KindCollection,
	"binary":     KindBinary,
	"json":       KindJSON,
}

// KindOf resolves a kind by its configuration name. Unknown names map to
// KindString.
func KindOf(name string) Kind {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return KindString
}

// TableName derives the backing table name of a model: the last segment of
// the dotted name, lowercased with underscores between camel-case words.
func TableName(model string) string {
	if i := strings.LastIndexByte(model, '.'); i >= 0 {
		model = model[i+1:]
	}
	var b strings.Builder
	for i, r := range model {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Property describes a single field of an entity type.
type Property struct {
	Name  string
	Title string
	Kind  Kind
	// Target names the referenced entity type for Reference and Collection
	// kinds.
	Target string
}

// Type describes an entity type to the tracking pipeline.
type Type struct {
	Name string
	// NameField is the field used as the record's display name.
	NameField string

	properties map[string]Property
	order      []string
}

// NewType builds a type descriptor. Property order is preserved.
func NewType(name, nameField string, props ...Property) *Type {
	t := &Type{
		Name:       name,
		NameField:  nameField,
		properties: make(map[string]Property, len(props)),
	}
	for _, p := range props {
		t.properties[p.Name] = p
		t.order = append(t.order, p.Name)
	}
	return t
}

// Property returns the descriptor of a field, if declared.
func (t *Type) Property(name string) (Property, bool) {
	p, ok := t.properties[name]
	return p, ok
}

// Properties returns all declared fields in declaration order.
func (t *Type) Properties() []Property {
	out := make([]Property, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.properties[name])
	}
	return out
}

// Entity is the minimal contract the pipeline needs from a domain record.
type Entity interface {
	ModelName() string
	EntityID() int64
	Get(field string) (any, bool)
}

// Record is a generic entity carrier used by storage adapters and tests.
type Record struct {
	Model  string
	ID     int64
	Values map[string]any
}

func (r *Record) ModelName() string { return r.Model }
func (r *Record) EntityID() int64   { return r.ID }

func (r *Record) Get(field string) (any, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Registry is a thread-safe collection of type descriptors keyed by model
// name.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds or replaces a type descriptor.
func (r *Registry) Register(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}

// Find returns the descriptor for a model name, or nil when unknown.
func (r *Registry) Find(model string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[model]
}
