package audit

import (
	"encoding/json"
	"log/slog"

	"chronicle/internal/entity"
)

// compactValue flattens reference values into a compact map of id plus the
// target's display name, matching what the serialized state can carry.
// Everything else passes through unchanged.
func compactValue(v any, types *entity.Registry) any {
	e, ok := v.(entity.Entity)
	if !ok {
		return v
	}
	compact := map[string]any{"id": e.EntityID()}
	if typ := types.Find(e.ModelName()); typ != nil && typ.NameField != "" {
		if name, ok := e.Get(typ.NameField); ok {
			compact[typ.NameField] = name
		}
	}
	return compact
}

func marshalState(values map[string]any, logger *slog.Logger) []byte {
	raw, err := json.Marshal(values)
	if err != nil {
		logger.Error("failed to serialize entity state", "error", err)
		return nil
	}
	return raw
}

func unmarshalState(raw []byte, logger *slog.Logger) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	values := map[string]any{}
	if err := json.Unmarshal(raw, &values); err != nil {
		logger.Error("failed to deserialize entity state", "error", err)
	}
	return values
}
