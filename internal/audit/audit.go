// Package audit implements the change tracking pipeline: per-transaction
// capture and consolidation of entity mutations, rule-driven notification
// generation, a durable queue of raw change records and the asynchronous
// batch processor that drains it.
package audit

import (
	"time"

	"chronicle/internal/entity"
)

// EventType classifies a captured mutation.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Model names of the pipeline's own records. Mutations of these never count
// as live traffic, otherwise the processor's own writes would re-trigger its
// own backoff.
const (
	ModelAuditLog     = "chronicle.AuditLog"
	ModelNotification = "chronicle.Notification"
	ModelFollower     = "chronicle.Follower"
)

// TypeNotification is the message type of generated notifications.
const TypeNotification = "notification"

// Log is one durable raw change record. Rows sharing the same
// (TxID, RelatedModel, RelatedID, EventType) represent sequential mutations
// of one logical change and are consolidated into a single notification by
// the processor. Rows are never deleted by this subsystem; the processor only
// flips Processed and maintains the retry bookkeeping.
type Log struct {
	ID           int64
	TxID         string
	RelatedID    int64
	RelatedModel string
	EventType    EventType
	// PreviousState is the serialized pre-mutation field map, nil on creation.
	PreviousState []byte
	CurrentState  []byte
	Author        string
	CreatedOn     time.Time
	Processed     bool
	ProcessedOn   *time.Time
	RetryCount    int
	ErrorMessage  string
}

// GroupKey identifies a consolidation group of log rows.
type GroupKey struct {
	TxID         string
	RelatedModel string
	RelatedID    int64
	EventType    EventType
}

// Group is a consolidation group as returned by the pending-fetch query:
// the key plus the ids of the earliest and latest pending rows.
type Group struct {
	Key        GroupKey
	FirstLogID int64
	LastLogID  int64
}

// Notification is the generated audit trail entry. Body is the serialized
// JSON document {title, tags, tracks, content?}.
type Notification struct {
	ID           string
	Subject      string
	Body         string
	Author       string
	RelatedID    int64
	RelatedModel string
	RelatedName  string
	Type         string
	ReceivedOn   time.Time
}

// Follower is an auto-subscription created when a tracked entity is created
// and its rule set requests it.
type Follower struct {
	RelatedID    int64
	RelatedModel string
	User         string
	Archived     bool
}

// EntityState is the consolidated before/after snapshot of one entity within
// one transaction. OldValues is fixed from the first observation; Values
// accumulates every subsequent mutation, so the state reflects the cumulative
// change.
type EntityState struct {
	Entity entity.Entity
	Event  EventType
	Values map[string]any
	// OldValues is nil on creation.
	OldValues map[string]any
	Received  time.Time
}
