package track

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"chronicle/internal/entity"
	pstrings "chronicle/pkg/platform/strings"
)

// YAML schema of the rules file. One file declares both the entity type
// descriptors and the tracking rule sets.
type fileSpec struct {
	Types    []typeSpec  `yaml:"types"`
	Tracking []modelSpec `yaml:"tracking"`
}

type typeSpec struct {
	Name      string      `yaml:"name"`
	NameField string      `yaml:"nameField"`
	Fields    []fieldSpec `yaml:"fields"`
}

type fieldSpec struct {
	Name   string `yaml:"name"`
	Title  string `yaml:"title"`
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}

type modelSpec struct {
	Model     string             `yaml:"model"`
	On        string             `yaml:"on"`
	Subscribe bool               `yaml:"subscribe"`
	Fields    []trackedFieldSpec `yaml:"fields"`
	Messages  []messageSpec      `yaml:"messages"`
	Contents  []messageSpec      `yaml:"contents"`
}

type trackedFieldSpec struct {
	Name      string `yaml:"name"`
	Title     string `yaml:"title"`
	Condition string `yaml:"condition"`
	On        string `yaml:"on"`
	JSONField string `yaml:"jsonField"`
}

type messageSpec struct {
	Message   string   `yaml:"message"`
	Fields    []string `yaml:"fields"`
	Condition string   `yaml:"condition"`
	Tag       string   `yaml:"tag"`
	On        string   `yaml:"on"`
}

// Load parses a rules document and fills the type registry and rule sets.
func Load(r io.Reader, types *entity.Registry, rules *Rules) error {
	var spec fileSpec
	if err := yaml.NewDecoder(r).Decode(&spec); err != nil {
		return fmt.Errorf("decode rules: %w", err)
	}

	for _, ts := range spec.Types {
		if ts.Name == "" {
			return fmt.Errorf("type with empty name")
		}
		props := make([]entity.Property, 0, len(ts.Fields))
		for _, fs := range ts.Fields {
			props = append(props, entity.Property{
				Name:   fs.Name,
				Title:  fs.Title,
				Kind:   entity.KindOf(fs.Kind),
				Target: fs.Target,
			})
		}
		types.Register(entity.NewType(ts.Name, ts.NameField, props...))
	}

	for _, ms := range spec.Tracking {
		if ms.Model == "" {
			return fmt.Errorf("tracking entry with empty model")
		}
		model := &Model{
			Name:      ms.Model,
			On:        EventOf(ms.On),
			Subscribe: ms.Subscribe,
		}
		for _, fs := range ms.Fields {
			model.Fields = append(model.Fields, Field{
				Name:        fs.Name,
				Title:       fs.Title,
				Condition:   fs.Condition,
				On:          EventOf(fs.On),
				CustomField: fs.JSONField != "",
				JSONField:   fs.JSONField,
			})
		}
		model.Messages = loadMessages(ms.Messages)
		model.Contents = loadMessages(ms.Contents)
		rules.Register(model)
	}

	return nil
}

// LoadFile is Load over a file path.
func LoadFile(path string, types *entity.Registry, rules *Rules) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	return Load(f, types, rules)
}

func loadMessages(specs []messageSpec) []Message {
	out := make([]Message, 0, len(specs))
	for _, s := range specs {
		out = append(out, Message{
			Message:   s.Message,
			Fields:    pstrings.DedupeAndTrim(s.Fields),
			Condition: s.Condition,
			Tag:       s.Tag,
			On:        EventOf(s.On),
		})
	}
	return out
}
