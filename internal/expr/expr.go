// Package expr defines the expression engine contract used for tracking rule
// guard conditions and templated messages, plus the default implementation
// backed by expr-lang. The pipeline is agnostic to which engine is wired in.
package expr

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
)

// Engine evaluates expressions against entity field bindings.
type Engine interface {
	// Eval evaluates an expression and returns its value.
	Eval(code string, env map[string]any) (any, error)
	// Test evaluates a guard condition. A blank condition is true.
	Test(cond string, env map[string]any) (bool, error)
}

// Marker delimiters for templated messages: a message of the form "#{...}"
// is evaluated, anything else is literal text.
const (
	markerPrefix = "#{"
	markerSuffix = "}"
)

// IsTemplate reports whether a message must be evaluated as an expression.
func IsTemplate(message string) bool {
	return strings.HasPrefix(message, markerPrefix) && strings.HasSuffix(message, markerSuffix)
}

// TemplateCode strips the expression marker from a templated message.
func TemplateCode(message string) string {
	return strings.TrimSuffix(strings.TrimPrefix(message, markerPrefix), markerSuffix)
}

// Lang is the expr-lang backed Engine.
type Lang struct{}

func NewLang() *Lang {
	return &Lang{}
}

func (l *Lang) Eval(code string, env map[string]any) (any, error) {
	out, err := exprlang.Eval(code, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", code, err)
	}
	return out, nil
}

func (l *Lang) Test(cond string, env map[string]any) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}
	out, err := l.Eval(cond, env)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}
