// Package sqlite provides a SQLite implementation of audit.Journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen        = "sqlite.Open"
	opAppend      = "sqlite.Append"
	opList        = "sqlite.List"
	opForResource = "sqlite.ForResource"
	opStats       = "sqlite.Stats"

	component = "storage/sqlite"
)

// Config holds configuration options for the Journal.
//
// DefaultConfig enables WAL and sizes the connection pool at 25 open and 5
// idle connections with a one hour lifetime.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:audit.db"
	DataSourceName string

	// EnableWAL appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger receives internal diagnostics. Nil discards them.
	Logger *slog.Logger

	// TableName defaults to "conflict_resolutions".
	TableName string

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "conflict_resolutions"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with production defaults for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	return &Config{
		DataSourceName:  dataSourceName,
		EnableWAL:       true,
		TableName:       "conflict_resolutions",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Journal stores conflict resolution records in SQLite.
type Journal struct {
	db        *sql.DB
	tableName string
	logger    *logging.Logger
	mu        stdSync.RWMutex
	closed    bool
}

var _ audit.Journal = (*Journal)(nil)

// New opens the database described by config and creates the table if needed.
func New(config *Config) (*Journal, error) {
	if config == nil {
		return nil, optErrors.NewWithComponent(opOpen, component, fmt.Errorf("config cannot be nil"))
	}
	config.setDefaults()

	logger := logging.Discard()
	if config.Logger != nil {
		logger = logging.Wrap(config.Logger)
	}
	logger = logger.WithComponent("sqlite-journal")

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, optErrors.WrapOpComponent(fmt.Errorf("failed to open database: %w", err), opOpen, component)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, optErrors.WrapOpComponent(fmt.Errorf("failed to connect to database: %w", err), opOpen, component)
	}

	j := &Journal{db: db, tableName: config.TableName, logger: logger}
	if err := j.setupSchema(); err != nil {
		db.Close()
		return nil, optErrors.WrapOpComponent(fmt.Errorf("failed to setup schema: %w", err), opOpen, component)
	}

	logger.Info("journal opened",
		slog.String("table", config.TableName),
		slog.Bool("wal", config.EnableWAL),
		slog.Int("max_open_conns", config.MaxOpenConns))
	return j, nil
}

// NewWithDataSource opens a journal with DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Journal, error) {
	return New(DefaultConfig(dataSourceName))
}

func (j *Journal) setupSchema() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		conflict_id TEXT NOT NULL UNIQUE,
		resource_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		field TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL,
		local_value TEXT,
		server_value TEXT,
		data TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_resource_id ON %[1]s (resource_id);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_resolved_at ON %[1]s (resolved_at);
	`, j.tableName)

	_, err := j.db.Exec(query)
	return err
}

// Append inserts rec. Appending the same conflict ID twice is an error.
func (j *Journal) Append(ctx context.Context, rec audit.Record) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return optErrors.WrapOpComponent(optErrors.ErrClosed, opAppend, component)
	}
	if rec.ConflictID == "" {
		return optErrors.WrapOpComponentKind(fmt.Errorf("conflict ID cannot be empty"), opAppend, component, optErrors.KindInvalid)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (conflict_id, resource_id, kind, field, action, detected_at, resolved_at, local_value, server_value, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.tableName)

	_, err := j.db.ExecContext(ctx, query,
		rec.ConflictID,
		rec.ResourceID,
		rec.Kind,
		rec.Field,
		rec.Action,
		rec.DetectedAt.UnixNano(),
		rec.ResolvedAt.UnixNano(),
		nullableJSON(rec.LocalValue),
		nullableJSON(rec.ServerValue),
		nullableJSON(rec.Data),
	)
	if err != nil {
		j.logger.Error("append failed", slog.String("conflict_id", rec.ConflictID), slog.Any("error", err))
		return optErrors.WrapOpComponent(fmt.Errorf("failed to insert record: %w", err), opAppend, component)
	}
	return nil
}

// List returns records matching criteria ordered by resolution time.
func (j *Journal) List(ctx context.Context, criteria *audit.Criteria) ([]audit.Record, error) {
	return j.list(ctx, criteria, opList)
}

// ForResource returns every record for resourceID.
func (j *Journal) ForResource(ctx context.Context, resourceID string) ([]audit.Record, error) {
	return j.list(ctx, &audit.Criteria{ResourceID: resourceID}, opForResource)
}

func (j *Journal) list(ctx context.Context, criteria *audit.Criteria, op string) ([]audit.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, optErrors.WrapOpComponent(optErrors.ErrClosed, op, component)
	}

	query, args := buildListQuery(j.tableName, criteria)
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, optErrors.WrapOpComponent(fmt.Errorf("failed to query records: %w", err), op, component)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var (
			rec                     audit.Record
			detectedAt, resolvedAt  int64
			localValue, serverValue sql.NullString
			data                    sql.NullString
		)
		if err := rows.Scan(&rec.ConflictID, &rec.ResourceID, &rec.Kind, &rec.Field, &rec.Action,
			&detectedAt, &resolvedAt, &localValue, &serverValue, &data); err != nil {
			return nil, optErrors.WrapOpComponent(fmt.Errorf("failed to scan record: %w", err), op, component)
		}
		rec.DetectedAt = time.Unix(0, detectedAt).UTC()
		rec.ResolvedAt = time.Unix(0, resolvedAt).UTC()
		rec.LocalValue = rawJSON(localValue)
		rec.ServerValue = rawJSON(serverValue)
		rec.Data = rawJSON(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, optErrors.WrapOpComponent(err, op, component)
	}
	return records, nil
}

func buildListQuery(table string, criteria *audit.Criteria) (string, []any) {
	var (
		where []string
		args  []any
	)
	if criteria == nil {
		criteria = &audit.Criteria{}
	}
	if criteria.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, criteria.ResourceID)
	}
	if criteria.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, criteria.Kind)
	}
	if criteria.Action != "" {
		where = append(where, "action = ?")
		args = append(args, criteria.Action)
	}
	if criteria.From != nil {
		where = append(where, "resolved_at >= ?")
		args = append(args, criteria.From.UnixNano())
	}
	if criteria.To != nil {
		where = append(where, "resolved_at <= ?")
		args = append(args, criteria.To.UnixNano())
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT conflict_id, resource_id, kind, field, action, detected_at, resolved_at, local_value, server_value, data FROM %s`, table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY resolved_at ASC, seq ASC")

	// SQLite needs a LIMIT clause before OFFSET; -1 means unbounded.
	if criteria.Limit > 0 || criteria.Offset > 0 {
		limit := -1
		if criteria.Limit > 0 {
			limit = criteria.Limit
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, criteria.Offset)
	}
	return b.String(), args
}

// Stats reports the record count and connection pool statistics.
func (j *Journal) Stats(ctx context.Context) (map[string]any, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, optErrors.WrapOpComponent(optErrors.ErrClosed, opStats, component)
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", j.tableName)
	if err := j.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return nil, optErrors.WrapOpComponent(err, opStats, component)
	}

	dbStats := j.db.Stats()
	return map[string]any{
		"records":          count,
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"idle":             dbStats.Idle,
		"wait_count":       dbStats.WaitCount,
	}, nil
}

// Close closes the database. Calling Close twice is safe.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.logger.Debug("journal closed")
	return j.db.Close()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}
