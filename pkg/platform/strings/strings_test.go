package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "removes duplicates and blanks",
			input: []string{"  foo ", "bar", "foo", "", "  "},
			want:  []string{"foo", "bar"},
		},
		{
			name:  "preserves order",
			input: []string{"c", "a", "b", "a"},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"dueDate", "Due date"},
		{"unit_price", "Unit price"},
		{"name", "Name"},
		{"totalAmountWithTax", "Total amount with tax"},
		{"", ""},
		{"_", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Humanize(tt.input))
		})
	}
}
