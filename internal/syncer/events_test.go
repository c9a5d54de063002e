package syncer_test

import (
	"testing"

	"github.com/Finding-Finance-Association/website-sub000/internal/syncer"
)

func TestMemoryEventLogger_LogEvent(t *testing.T) {
	logger := syncer.NewMemoryEventLogger()

	err := logger.LogEvent(syncer.Event{
		UserID:    "user-1",
		CourseID:  "course-1",
		EventType: syncer.EventWriteFailed,
		Error:     "boom",
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].EventType != syncer.EventWriteFailed {
		t.Errorf("EventType = %q, want write_failed", events[0].EventType)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestMemoryEventLogger_RequiresType(t *testing.T) {
	if err := syncer.NewMemoryEventLogger().LogEvent(syncer.Event{UserID: "u"}); err == nil {
		t.Fatal("expected error for missing event type")
	}
}

func TestPostgresEventLogger_LogEvent_NilPool(t *testing.T) {
	logger := syncer.NewPostgresEventLogger(nil)

	err := logger.LogEvent(syncer.Event{
		UserID:    "user-1",
		EventType: syncer.EventReadFailed,
	})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestNopEventLogger(t *testing.T) {
	var l syncer.EventLogger = syncer.NopEventLogger{}
	if err := l.LogEvent(syncer.Event{}); err != nil {
		t.Errorf("LogEvent() error = %v", err)
	}
}
