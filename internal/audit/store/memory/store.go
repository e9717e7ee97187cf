// Package memory provides in-memory audit stores for tests and for running
// without a database. They intentionally favor clarity over performance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronicle/internal/audit"
	"chronicle/internal/entity"
)

// LogStore is an in-memory audit.LogStore.
type LogStore struct {
	mu     sync.RWMutex
	nextID int64
	logs   []*audit.Log
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

func (s *LogStore) Insert(_ context.Context, logs []audit.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range logs {
		s.nextID++
		row := logs[i]
		row.ID = s.nextID
		s.logs = append(s.logs, &row)
	}
	return nil
}

func (s *LogStore) CandidateTxIDs(_ context.Context, maxRetry, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		txID    string
		created time.Time
	}
	seen := make(map[string]*candidate)
	var order []*candidate
	for _, l := range s.logs {
		if l.Processed || l.RetryCount >= maxRetry {
			continue
		}
		if c, ok := seen[l.TxID]; ok {
			if l.CreatedOn.Before(c.created) {
				c.created = l.CreatedOn
			}
			continue
		}
		c := &candidate{txID: l.TxID, created: l.CreatedOn}
		seen[l.TxID] = c
		order = append(order, c)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].created.Before(order[j].created)
	})

	out := make([]string, 0, len(order))
	for _, c := range order {
		if len(out) >= limit {
			break
		}
		out = append(out, c.txID)
	}
	return out, nil
}

func (s *LogStore) FetchGroups(_ context.Context, txID string, maxRetry, limit, offset int) ([]audit.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		group   audit.Group
		created time.Time
	}
	groups := make(map[audit.GroupKey]*agg)
	var order []*agg

	for _, l := range s.logs {
		if l.Processed || l.RetryCount >= maxRetry {
			continue
		}
		if txID != "" && l.TxID != txID {
			continue
		}
		key := audit.GroupKey{
			TxID:         l.TxID,
			RelatedModel: l.RelatedModel,
			RelatedID:    l.RelatedID,
			EventType:    l.EventType,
		}
		a, ok := groups[key]
		if !ok {
			a = &agg{
				group:   audit.Group{Key: key, FirstLogID: l.ID, LastLogID: l.ID},
				created: l.CreatedOn,
			}
			groups[key] = a
			order = append(order, a)
			continue
		}
		if l.ID < a.group.FirstLogID {
			a.group.FirstLogID = l.ID
		}
		if l.ID > a.group.LastLogID {
			a.group.LastLogID = l.ID
		}
		if l.CreatedOn.Before(a.created) {
			a.created = l.CreatedOn
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].created.Before(order[j].created)
	})

	var out []audit.Group
	for i, a := range order {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, a.group)
	}
	return out, nil
}

func (s *LogStore) FetchGroupLogs(_ context.Context, key audit.GroupKey) ([]audit.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Log
	for _, l := range s.logs {
		if l.Processed || !matches(l, key) {
			continue
		}
		out = append(out, *l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *LogStore) MarkProcessed(_ context.Context, key audit.GroupKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.Processed || !matches(l, key) {
			continue
		}
		l.Processed = true
		processedOn := at
		l.ProcessedOn = &processedOn
	}
	return nil
}

func (s *LogStore) MarkFailed(_ context.Context, key audit.GroupKey, retryCount int, processed bool, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.Processed || !matches(l, key) {
			continue
		}
		l.RetryCount = retryCount
		l.Processed = processed
		l.ErrorMessage = errMessage
	}
	return nil
}

// All returns a copy of every stored row, for assertions.
func (s *LogStore) All() []audit.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Log, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	return out
}

func matches(l *audit.Log, key audit.GroupKey) bool {
	return l.TxID == key.TxID &&
		l.RelatedModel == key.RelatedModel &&
		l.RelatedID == key.RelatedID &&
		l.EventType == key.EventType
}

// NotificationStore is an in-memory audit.NotificationStore.
type NotificationStore struct {
	mu            sync.RWMutex
	notifications []audit.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

func (s *NotificationStore) Save(_ context.Context, n *audit.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

// All returns a copy of every saved notification.
func (s *NotificationStore) All() []audit.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Notification(nil), s.notifications...)
}

// FollowerStore is an in-memory audit.FollowerStore.
type FollowerStore struct {
	mu        sync.RWMutex
	followers []audit.Follower
}

func NewFollowerStore() *FollowerStore {
	return &FollowerStore{}
}

func (s *FollowerStore) Save(_ context.Context, f *audit.Follower) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followers = append(s.followers, *f)
	return nil
}

// All returns a copy of every saved follower.
func (s *FollowerStore) All() []audit.Follower {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Follower(nil), s.followers...)
}

// Resolver is an in-memory audit.EntityResolver over registered records.
type Resolver struct {
	mu      sync.RWMutex
	records map[string]map[int64]*entity.Record
}

func NewResolver() *Resolver {
	return &Resolver{records: make(map[string]map[int64]*entity.Record)}
}

// Register makes a record resolvable.
func (r *Resolver) Register(rec *entity.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.records[rec.Model]
	if !ok {
		byID = make(map[int64]*entity.Record)
		r.records[rec.Model] = byID
	}
	byID[rec.ID] = rec
}

// Remove makes a record unresolvable, simulating deletion.
func (r *Resolver) Remove(model string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records[model], id)
}

func (r *Resolver) Resolve(_ context.Context, model string, id int64) (entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[model][id]; ok {
		return rec, nil
	}
	return nil, audit.ErrNotFound
}
