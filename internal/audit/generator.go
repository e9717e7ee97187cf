package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chronicle/internal/entity"
	"chronicle/internal/expr"
	"chronicle/internal/platform/metrics"
	"chronicle/internal/track"
	pstrings "chronicle/pkg/platform/strings"
)

// Generator converts a consolidated EntityState into a notification, applying
// the model's tracking rules. Rule evaluation failures are logged and the
// offending contribution skipped; only persistence failures are returned.
type Generator struct {
	notifications NotificationStore
	followers     FollowerStore
	types         *entity.Registry
	rules         *track.Rules
	script        expr.Engine
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewGenerator wires the notification generator. metrics may be nil.
func NewGenerator(
	notifications NotificationStore,
	followers FollowerStore,
	types *entity.Registry,
	rules *track.Rules,
	script expr.Engine,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Generator {
	return &Generator{
		notifications: notifications,
		followers:     followers,
		types:         types,
		rules:         rules,
		script:        script,
		logger:        logger,
		metrics:       m,
	}
}

type trackItem struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Value    string `json:"value"`
	OldValue string `json:"oldValue,omitempty"`
}

type tagItem struct {
	Title string `json:"title"`
	Style string `json:"style"`
}

type notificationBody struct {
	Title   string      `json:"title"`
	Tags    []tagItem   `json:"tags"`
	Tracks  []trackItem `json:"tracks"`
	Content string      `json:"content,omitempty"`
}

// Process evaluates the tracking rules of one consolidated change and, when
// the change has an observable effect, persists a notification authored by
// user. Changes with no matching title, content or field entries generate
// nothing.
func (g *Generator) Process(ctx context.Context, state *EntityState, user string) error {
	model := g.rules.Find(state.Entity.ModelName())
	if model == nil {
		return nil
	}
	typ := g.types.Find(state.Entity.ModelName())
	if typ == nil {
		g.logger.Debug("no type descriptor for tracked model", "model", state.Entity.ModelName())
		return nil
	}

	values := state.Values
	oldValues := state.OldValues
	created := len(oldValues) == 0
	eventClass := track.EventUpdate
	if created {
		eventClass = track.EventCreate
	}

	title := g.findMessage(model, model.Messages, values, oldValues)
	content := g.findMessage(model, model.Contents, values, oldValues)

	jsonValues := newJSONCache(values, g.logger)
	oldJSONValues := newJSONCache(oldValues, g.logger)

	var tracks []trackItem
	touched := make(map[string]struct{})

	for _, field := range model.Fields {
		if !model.FieldEvent(field).Matches(eventClass) {
			continue
		}
		if ok, err := g.script.Test(field.Condition, values); err != nil {
			g.logger.Debug("field condition failed", "field", field.Name, "error", err)
			continue
		} else if !ok {
			continue
		}

		prop, ok := typ.Property(field.Name)
		if !ok {
			g.logger.Debug("tracked field not declared", "model", typ.Name, "field", field.Name)
			continue
		}

		fieldTitle := field.Title
		if fieldTitle == "" {
			fieldTitle = prop.Title
		}
		if fieldTitle == "" {
			fieldTitle = pstrings.Humanize(field.Name)
		}

		value := g.fieldValue(values, jsonValues, field, prop)
		oldValue := g.fieldValue(oldValues, oldJSONValues, field, prop)

		if equalValues(value, oldValue) {
			continue
		}

		touched[field.Name] = struct{}{}

		item := trackItem{
			Name:  field.Name,
			Title: fieldTitle,
			Value: g.format(prop, value),
		}
		if oldValue != nil && state.Event != EventCreate {
			item.OldValue = g.format(prop, oldValue)
		}
		tracks = append(tracks, item)
	}

	tags := g.findTags(model, eventClass, values, touched)

	// don't generate empty tracking info
	if title == "" && content == "" && len(tracks) == 0 {
		return nil
	}

	if title == "" {
		if created {
			title = "Record created"
		} else {
			title = "Record updated"
		}
	}

	body := notificationBody{
		Title:   title,
		Tags:    tags,
		Tracks:  tracks,
		Content: content,
	}
	if body.Tags == nil {
		body.Tags = []tagItem{}
	}
	if body.Tracks == nil {
		body.Tracks = []trackItem{}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal notification body: %w", err)
	}

	n := &Notification{
		ID:           uuid.NewString(),
		Subject:      title,
		Body:         string(raw),
		Author:       user,
		RelatedID:    state.Entity.EntityID(),
		RelatedModel: state.Entity.ModelName(),
		RelatedName:  g.relatedName(typ, state),
		Type:         TypeNotification,
		ReceivedOn:   state.Received,
	}

	g.logger.Debug("creating tracking notification",
		"model", n.RelatedModel, "id", n.RelatedID, "title", title)

	if err := g.notifications.Save(ctx, n); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	if g.metrics != nil {
		g.metrics.Notifications.Inc()
	}

	if created && model.Subscribe {
		follower := &Follower{
			RelatedID:    state.Entity.EntityID(),
			RelatedModel: state.Entity.ModelName(),
			User:         user,
			Archived:     false,
		}
		if err := g.followers.Save(ctx, follower); err != nil {
			return fmt.Errorf("save follower: %w", err)
		}
	}

	return nil
}

// findMessage selects the first matching non-tag template and renders it.
func (g *Generator) findMessage(model *track.Model, messages []track.Message, values, oldValues map[string]any) string {
	created := len(oldValues) == 0
	target := track.EventUpdate
	if created {
		target = track.EventCreate
	}

	for _, tm := range messages {
		if !model.MessageEvent(tm).Matches(target) {
			continue
		}
		matched := len(tm.Fields) == 0
		for _, field := range tm.Fields {
			if created {
				_, matched = values[field]
			} else {
				matched = !equalValues(values[field], oldValues[field])
			}
			if matched {
				break
			}
		}
		if !matched || tm.Tag != "" {
			continue
		}
		ok, err := g.script.Test(tm.Condition, values)
		if err != nil {
			g.logger.Debug("message condition failed", "condition", tm.Condition, "error", err)
			continue
		}
		if !ok {
			continue
		}
		msg := tm.Message
		if expr.IsTemplate(msg) {
			out, err := g.script.Eval(expr.TemplateCode(msg), values)
			if err != nil {
				g.logger.Debug("message template failed", "message", msg, "error", err)
				continue
			}
			msg = fmt.Sprintf("%v", out)
		}
		return msg
	}
	return ""
}

// findTags collects the tag entries whose field filter intersects the touched
// set.
func (g *Generator) findTags(model *track.Model, eventClass track.Event, values map[string]any, touched map[string]struct{}) []tagItem {
	var tags []tagItem
	for _, tm := range model.Messages {
		if tm.Tag == "" {
			continue
		}
		canTag := len(tm.Fields) == 0
		for _, field := range tm.Fields {
			if _, ok := touched[field]; ok {
				canTag = true
				break
			}
		}
		if !canTag {
			continue
		}
		if !model.MessageEvent(tm).Matches(eventClass) {
			continue
		}
		ok, err := g.script.Test(tm.Condition, values)
		if err != nil {
			g.logger.Debug("tag condition failed", "condition", tm.Condition, "error", err)
			continue
		}
		if ok {
			tags = append(tags, tagItem{Title: tm.Message, Style: tm.Tag})
		}
	}
	return tags
}

// fieldValue reads a field's raw value, extracting custom fields from their
// JSON container, and adapts it to the declared kind.
func (g *Generator) fieldValue(values map[string]any, cache *jsonCache, field track.Field, prop entity.Property) any {
	var raw any
	if field.CustomField {
		raw = cache.get(field.JSONField)[field.Name]
	} else {
		raw = values[field.Name]
	}
	adapted, err := entity.Adapt(raw, prop.Kind)
	if err != nil {
		g.logger.Debug("value adaptation failed", "field", field.Name, "error", err)
	}
	return adapted
}

// format renders a typed value for display.
func (g *Generator) format(prop entity.Property, value any) string {
	if value == nil {
		return ""
	}
	switch prop.Kind {
	case entity.KindReference:
		if name, ok := g.referenceName(prop, value); ok {
			return name
		}
	case entity.KindCollection:
		// collections are never rendered element-wise
		return "N/A"
	}
	switch v := value.(type) {
	case bool:
		if v {
			return "True"
		}
		return "False"
	case decimal.Decimal:
		// keep the stored scale; String would trim trailing zeros
		if exp := v.Exponent(); exp < 0 {
			return v.StringFixed(-exp)
		}
		return v.String()
	case time.Time:
		if prop.Kind == entity.KindDate {
			return v.Format("2006-01-02")
		}
		return v.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", value)
}

// referenceName resolves the display name of a reference value from its
// target type's name field.
func (g *Generator) referenceName(prop entity.Property, value any) (string, bool) {
	nameKey := "id"
	if target := g.types.Find(prop.Target); target != nil && target.NameField != "" {
		nameKey = target.NameField
	}
	var name any
	switch v := value.(type) {
	case map[string]any:
		name = v[nameKey]
	case entity.Entity:
		name, _ = v.Get(nameKey)
	default:
		return "", false
	}
	if name == nil {
		return "N/A", true
	}
	return fmt.Sprintf("%v", name), true
}

func (g *Generator) relatedName(typ *entity.Type, state *EntityState) string {
	if typ.NameField == "" {
		return ""
	}
	if v, ok := state.Values[typ.NameField]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	if v, ok := state.Entity.Get(typ.NameField); ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// equalValues compares adapted values. Decimals and timestamps get semantic
// comparison; everything else falls back to deep equality.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if da, ok := a.(decimal.Decimal); ok {
		if db, ok := b.(decimal.Decimal); ok {
			return da.Equal(db)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// jsonCache lazily decodes JSON container fields holding custom field values.
type jsonCache struct {
	values map[string]any
	maps   map[string]map[string]any
	logger *slog.Logger
}

func newJSONCache(values map[string]any, logger *slog.Logger) *jsonCache {
	return &jsonCache{values: values, maps: make(map[string]map[string]any), logger: logger}
}

func (c *jsonCache) get(container string) map[string]any {
	if m, ok := c.maps[container]; ok {
		return m
	}
	m := map[string]any{}
	switch v := c.values[container].(type) {
	case nil:
	case map[string]any:
		m = v
	case string:
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			c.logger.Debug("decode custom field container failed", "field", container, "error", err)
		}
	case []byte:
		if err := json.Unmarshal(v, &m); err != nil {
			c.logger.Debug("decode custom field container failed", "field", container, "error", err)
		}
	}
	c.maps[container] = m
	return m
}
