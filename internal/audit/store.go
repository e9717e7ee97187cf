package audit

import (
	"context"
	"errors"
	"time"

	"chronicle/internal/entity"
)

// ErrNotFound is returned by resolvers and stores when a record does not
// exist. The processor treats a missing entity as a benign skip, not an
// error.
var ErrNotFound = errors.New("not found")

// Stores are interface-driven to keep the pipeline testable and to allow
// swapping in-memory and SQL persistence without rewiring the processing
// code.

// LogStore is the durable queue of raw change records.
type LogStore interface {
	// Insert appends raw change records. Implementations must join a
	// transaction carried in ctx so rows commit atomically with the mutations
	// that produced them.
	Insert(ctx context.Context, logs []Log) error
	// CandidateTxIDs lists transactions with pending work, ordered by the
	// earliest record creation. Rows over the retry budget are excluded.
	CandidateTxIDs(ctx context.Context, maxRetry, limit int) ([]string, error)
	// FetchGroups pages through pending consolidation groups. An empty txID
	// matches all transactions. Rows over the retry budget are excluded.
	FetchGroups(ctx context.Context, txID string, maxRetry, limit, offset int) ([]Group, error)
	// FetchGroupLogs returns the pending rows of one group ordered by id.
	FetchGroupLogs(ctx context.Context, key GroupKey) ([]Log, error)
	// MarkProcessed flips the processed flag of every pending row in a group.
	MarkProcessed(ctx context.Context, key GroupKey, at time.Time) error
	// MarkFailed records a processing failure on every pending row in a
	// group. When processed is true the group is parked and excluded from
	// future fetches.
	MarkFailed(ctx context.Context, key GroupKey, retryCount int, processed bool, errMessage string) error
}

// NotificationStore persists generated notifications.
type NotificationStore interface {
	Save(ctx context.Context, n *Notification) error
}

// FollowerStore persists auto-subscriptions.
type FollowerStore interface {
	Save(ctx context.Context, f *Follower) error
}

// EntityResolver loads the live entity by primary key. Returns ErrNotFound
// when the entity no longer exists.
type EntityResolver interface {
	Resolve(ctx context.Context, model string, id int64) (entity.Entity, error)
}

// AttachmentService removes attachments of deleted entities. Consumed as a
// black box; the tracker calls it exactly once per deleted entity per
// transaction.
type AttachmentService interface {
	DeleteAttachments(ctx context.Context, model string, id int64) error
}

// CompletionListener receives the updated and deleted entity sets once per
// transaction before completion, for external collaborators.
type CompletionListener interface {
	BeforeTransactionComplete(ctx context.Context, updated, deleted []entity.Entity)
}

// Runner executes a function inside a fresh transactional scope. The SQL
// implementation opens a transaction and carries it through ctx; the
// in-memory one is a passthrough.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

// PassthroughRunner runs the function directly, with no transaction.
func PassthroughRunner(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
