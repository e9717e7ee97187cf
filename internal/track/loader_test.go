package track

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/internal/entity"
)

const rulesDoc = `
types:
  - name: sale.Order
    nameField: reference
    fields:
      - name: reference
        title: Reference
      - name: dueDate
        title: Due date
        kind: date
      - name: customer
        kind: reference
        target: contact.Contact

tracking:
  - model: sale.Order
    on: always
    subscribe: true
    fields:
      - name: reference
      - name: confirmed
        on: update
      - name: color
        jsonField: attributes
    messages:
      - message: Order created
        on: create
      - message: Important
        tag: important
        condition: confirmed == true
    contents:
      - message: 'changed'
        fields: [reference, reference, '']
`

func TestLoad(t *testing.T) {
	types := entity.NewRegistry()
	rules := NewRules()
	require.NoError(t, Load(strings.NewReader(rulesDoc), types, rules))

	t.Run("registers type descriptors", func(t *testing.T) {
		typ := types.Find("sale.Order")
		require.NotNil(t, typ)
		assert.Equal(t, "reference", typ.NameField)

		prop, ok := typ.Property("dueDate")
		require.True(t, ok)
		assert.Equal(t, entity.KindDate, prop.Kind)
		assert.Equal(t, "Due date", prop.Title)

		prop, ok = typ.Property("customer")
		require.True(t, ok)
		assert.Equal(t, entity.KindReference, prop.Kind)
		assert.Equal(t, "contact.Contact", prop.Target)
	})

	t.Run("registers tracking rules", func(t *testing.T) {
		model := rules.Find("sale.Order")
		require.NotNil(t, model)
		assert.Equal(t, EventAlways, model.On)
		assert.True(t, model.Subscribe)
		require.Len(t, model.Fields, 3)
		assert.Equal(t, EventDefault, model.Fields[0].On)
		assert.Equal(t, EventUpdate, model.Fields[1].On)
	})

	t.Run("json fields become custom fields", func(t *testing.T) {
		model := rules.Find("sale.Order")
		field := model.Fields[2]
		assert.True(t, field.CustomField)
		assert.Equal(t, "attributes", field.JSONField)
	})

	t.Run("message fields are deduped", func(t *testing.T) {
		model := rules.Find("sale.Order")
		require.Len(t, model.Contents, 1)
		assert.Equal(t, []string{"reference"}, model.Contents[0].Fields)
	})

	t.Run("unknown model is untracked", func(t *testing.T) {
		assert.Nil(t, rules.Find("sale.OrderLine"))
	})
}

func TestLoadRejectsEmptyNames(t *testing.T) {
	types := entity.NewRegistry()
	rules := NewRules()

	err := Load(strings.NewReader("types:\n  - nameField: x\n"), types, rules)
	assert.Error(t, err)

	err = Load(strings.NewReader("tracking:\n  - on: always\n"), types, rules)
	assert.Error(t, err)
}

func TestEventMatching(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		target Event
		want   bool
	}{
		{"always matches create", EventAlways, EventCreate, true},
		{"always matches update", EventAlways, EventUpdate, true},
		{"create matches create", EventCreate, EventCreate, true},
		{"create does not match update", EventCreate, EventUpdate, false},
		{"update does not match create", EventUpdate, EventCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Matches(tt.target))
		})
	}
}

func TestModelEventFallback(t *testing.T) {
	model := &Model{Name: "sale.Order", On: EventCreate}

	assert.Equal(t, EventCreate, model.FieldEvent(Field{}))
	assert.Equal(t, EventUpdate, model.FieldEvent(Field{On: EventUpdate}))
	assert.Equal(t, EventCreate, model.MessageEvent(Message{}))
}
