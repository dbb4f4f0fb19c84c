package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
)

func setupTestJournal(t *testing.T) *Journal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	j, err := New(&Config{DataSourceName: dbPath, EnableWAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func record(id, resource, kind, action string, resolvedAt time.Time) audit.Record {
	return audit.Record{
		ConflictID: id,
		ResourceID: resource,
		Kind:       kind,
		Action:     action,
		DetectedAt: resolvedAt.Add(-time.Second),
		ResolvedAt: resolvedAt,
	}
}

func TestJournal_AppendAndList(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := record("c1", "todo-1", "version", "reject", base)
	rec.Field = "title"
	rec.LocalValue = json.RawMessage(`{"title":"mine"}`)
	rec.ServerValue = json.RawMessage(`{"title":"theirs"}`)
	require.NoError(t, j.Append(ctx, rec))
	require.NoError(t, j.Append(ctx, record("c2", "todo-2", "duplicate", "overwrite", base.Add(time.Minute))))

	all, err := j.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got := all[0]
	assert.Equal(t, "c1", got.ConflictID)
	assert.Equal(t, "todo-1", got.ResourceID)
	assert.Equal(t, "title", got.Field)
	assert.True(t, base.Equal(got.ResolvedAt))
	assert.True(t, base.Add(-time.Second).Equal(got.DetectedAt))
	assert.JSONEq(t, `{"title":"mine"}`, string(got.LocalValue))
	assert.JSONEq(t, `{"title":"theirs"}`, string(got.ServerValue))
	assert.Nil(t, got.Data)
	assert.Equal(t, "c2", all[1].ConflictID)
}

func TestJournal_Criteria(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, r := range []audit.Record{
		record("c1", "todo-1", "version", "reject", base),
		record("c2", "todo-1", "concurrent-edit", "merge", base.Add(time.Minute)),
		record("c3", "todo-2", "version", "overwrite", base.Add(2*time.Minute)),
		record("c4", "todo-1", "version", "reject", base.Add(3*time.Minute)),
	} {
		require.NoError(t, j.Append(ctx, r), "record %d", i)
	}

	tests := []struct {
		name     string
		criteria *audit.Criteria
		want     []string
	}{
		{"by resource", &audit.Criteria{ResourceID: "todo-1"}, []string{"c1", "c2", "c4"}},
		{"by kind", &audit.Criteria{Kind: "version"}, []string{"c1", "c3", "c4"}},
		{"by action", &audit.Criteria{Action: "reject"}, []string{"c1", "c4"}},
		{"time window", &audit.Criteria{From: ptr(base.Add(time.Minute)), To: ptr(base.Add(2 * time.Minute))}, []string{"c2", "c3"}},
		{"limit", &audit.Criteria{Limit: 2}, []string{"c1", "c2"}},
		{"offset only", &audit.Criteria{Offset: 3}, []string{"c4"}},
		{"limit and offset", &audit.Criteria{Limit: 1, Offset: 1}, []string{"c2"}},
		{"no match", &audit.Criteria{ResourceID: "missing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := j.List(ctx, tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(records))
		})
	}

	forResource, err := j.ForResource(ctx, "todo-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids(forResource))
}

func TestJournal_RejectsInvalidRecords(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	err := j.Append(ctx, audit.Record{ResourceID: "todo-1"})
	require.Error(t, err)
	assert.Equal(t, optErrors.KindInvalid, optErrors.KindOf(err))

	now := time.Now()
	require.NoError(t, j.Append(ctx, record("c1", "todo-1", "version", "reject", now)))
	assert.Error(t, j.Append(ctx, record("c1", "todo-1", "version", "reject", now)), "conflict IDs are unique")
}

func TestJournal_Closed(t *testing.T) {
	j := setupTestJournal(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	ctx := context.Background()
	err := j.Append(ctx, record("c1", "todo-1", "version", "reject", time.Now()))
	assert.ErrorIs(t, err, optErrors.ErrClosed)
	_, err = j.List(ctx, nil)
	assert.ErrorIs(t, err, optErrors.ErrClosed)
	_, err = j.Stats(ctx)
	assert.ErrorIs(t, err, optErrors.ErrClosed)
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	j, err := NewWithDataSource(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, record("c1", "todo-1", "version", "reject", time.Now())))
	require.NoError(t, j.Close())

	j, err = NewWithDataSource(dbPath)
	require.NoError(t, err)
	defer j.Close()

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["records"])
}

func TestConfig_SetDefaults(t *testing.T) {
	c := &Config{DataSourceName: "file:audit.db?cache=shared", EnableWAL: true}
	c.setDefaults()
	assert.Equal(t, "conflict_resolutions", c.TableName)
	assert.Equal(t, "file:audit.db?cache=shared&_journal_mode=WAL", c.DataSourceName)
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, 5, c.MaxIdleConns)
	assert.Equal(t, time.Hour, c.ConnMaxLifetime)

	c = &Config{DataSourceName: "audit.db", EnableWAL: true}
	c.setDefaults()
	assert.Equal(t, "audit.db?_journal_mode=WAL", c.DataSourceName)
}

func TestJournal_WithDetector(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	detector := conflict.NewDetector(
		conflict.WithJournal(j),
		conflict.WithLogger(logging.Discard().Logger),
	)
	c := detector.DetectVersionConflict("todo-1", 1, 2, map[string]any{"title": "a"}, map[string]any{"title": "b"})
	require.NotNil(t, c)
	require.True(t, detector.Resolve(ctx, c.ID, conflict.Resolution{Action: conflict.ActionReject}))

	records, err := j.ForResource(ctx, "todo-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, c.ID, records[0].ConflictID)
	assert.Equal(t, "reject", records[0].Action)
	assert.Equal(t, string(conflict.KindVersion), records[0].Kind)
}

func ids(records []audit.Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.ConflictID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
