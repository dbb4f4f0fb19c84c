// Package audit keeps a trail of resolved conflicts. The conflict detector
// appends one Record per resolution; backends live under storage/.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record captures how one conflict was closed out.
type Record struct {
	ConflictID string    `json:"conflict_id"`
	ResourceID string    `json:"resource_id"`
	Kind       string    `json:"kind"`
	Field      string    `json:"field,omitempty"`
	Action     string    `json:"action"`
	DetectedAt time.Time `json:"detected_at"`
	ResolvedAt time.Time `json:"resolved_at"`

	// JSON-encoded payloads as they stood at resolution time.
	LocalValue  json.RawMessage `json:"local_value,omitempty"`
	ServerValue json.RawMessage `json:"server_value,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Criteria filters List results. Zero fields match everything.
type Criteria struct {
	ResourceID string
	Kind       string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Journal stores resolution records.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, criteria *Criteria) ([]Record, error)
	ForResource(ctx context.Context, resourceID string) ([]Record, error)
	Close() error
}

// Encode marshals v for a Record payload field. Nil stays nil.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	return data, nil
}

// Matches reports whether rec satisfies c.
func (c *Criteria) Matches(rec Record) bool {
	if c == nil {
		return true
	}
	if c.ResourceID != "" && rec.ResourceID != c.ResourceID {
		return false
	}
	if c.Kind != "" && rec.Kind != c.Kind {
		return false
	}
	if c.Action != "" && rec.Action != c.Action {
		return false
	}
	if c.From != nil && rec.ResolvedAt.Before(*c.From) {
		return false
	}
	if c.To != nil && rec.ResolvedAt.After(*c.To) {
		return false
	}
	return true
}

// MemoryJournal is an in-process Journal. Records are returned in resolution
// order.
type MemoryJournal struct {
	mu      sync.RWMutex
	records []Record
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, rec Record) error {
	if rec.ConflictID == "" {
		return fmt.Errorf("audit record conflict ID cannot be empty")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, cloneRecord(rec))
	return nil
}

func (j *MemoryJournal) List(ctx context.Context, criteria *Criteria) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []Record
	for _, rec := range j.records {
		if criteria.Matches(rec) {
			results = append(results, cloneRecord(rec))
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].ResolvedAt.Before(results[b].ResolvedAt)
	})

	if criteria != nil {
		if criteria.Offset > 0 {
			if criteria.Offset >= len(results) {
				return nil, nil
			}
			results = results[criteria.Offset:]
		}
		if criteria.Limit > 0 && criteria.Limit < len(results) {
			results = results[:criteria.Limit]
		}
	}
	return results, nil
}

func (j *MemoryJournal) ForResource(ctx context.Context, resourceID string) ([]Record, error) {
	return j.List(ctx, &Criteria{ResourceID: resourceID})
}

func (j *MemoryJournal) Close() error { return nil }

func cloneRecord(rec Record) Record {
	out := rec
	out.LocalValue = append(json.RawMessage(nil), rec.LocalValue...)
	out.ServerValue = append(json.RawMessage(nil), rec.ServerValue...)
	out.Data = append(json.RawMessage(nil), rec.Data...)
	return out
}
