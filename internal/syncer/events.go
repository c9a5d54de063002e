package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const eventTimeout = 5 * time.Second

// Event types.
const (
	EventWriteFailed     = "write_failed"
	EventReadFailed      = "read_failed"
	EventTeardownTimeout = "teardown_timeout"
)

// EventSchema creates the sync_events table.
var EventSchema = []string{
	`CREATE TABLE IF NOT EXISTS sync_events (
		id          BIGSERIAL PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		course_id   TEXT NOT NULL DEFAULT '',
		event_type  TEXT NOT NULL,
		op          TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_events_user ON sync_events (user_id, created_at)`,
}

// Event is a sync failure worth keeping beyond the log.
type Event struct {
	UserID    string
	CourseID  string
	EventType string
	Op        string
	Error     string
	CreatedAt time.Time
}

// EventLogger records sync events.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the sync_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO sync_events (user_id, course_id, event_type, op, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.UserID,
		event.CourseID,
		event.EventType,
		event.Op,
		event.Error,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}

	slog.Debug("sync event logged",
		"type", event.EventType,
		"user_id", event.UserID,
		"course_id", event.CourseID,
	)
	return nil
}

func logEvent(l EventLogger, event Event) {
	if l == nil {
		return
	}
	if err := l.LogEvent(event); err != nil {
		slog.Warn("recording sync event failed", "type", event.EventType, "error", err)
	}
}
