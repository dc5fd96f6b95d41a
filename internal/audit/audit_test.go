package audit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"yojak/internal/audit"
	"yojak/internal/domain"
)

func newLog(t *testing.T) *audit.Log {
	t.Helper()
	l, err := audit.New(filepath.Join(t.TempDir(), "logs"))
	if err != nil {
		t.Fatal(err)
	}
	l.SetClock(func() time.Time { return time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC) })
	return l
}

func TestAppendAndTail(t *testing.T) {
	l := newLog(t)
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.submitted", RecordType: domain.TypeTicket, RecordID: "TKT-1"})
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.assigned", RecordID: "TKT-1", AssignedTo: "staff-1"})
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.resolved", RecordID: "TKT-1", Status: domain.StatusResolved})

	events, err := l.Tail(audit.ChannelLifecycle, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != "record.submitted" || events[2].Kind != "record.resolved" {
		t.Fatalf("wrong order: %+v", events)
	}
	if events[0].TS != "2026-06-01T08:30:00Z" {
		t.Fatalf("ts %q", events[0].TS)
	}
}

func TestTailLimitKeepsNewest(t *testing.T) {
	l := newLog(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		l.Append(audit.ChannelPublish, audit.Event{Kind: "publish.run", RecordID: id})
	}
	events, err := l.Tail(audit.ChannelPublish, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].RecordID != "C" || events[1].RecordID != "D" {
		t.Fatalf("tail = %+v", events)
	}
}

func TestChannelsIsolated(t *testing.T) {
	l := newLog(t)
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.submitted"})
	l.Append(audit.ChannelDiscovery, audit.Event{Kind: "discovery.run"})

	life, err := l.Tail(audit.ChannelLifecycle, 0)
	if err != nil {
		t.Fatal(err)
	}
	disc, err := l.Tail(audit.ChannelDiscovery, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(life) != 1 || len(disc) != 1 {
		t.Fatalf("lifecycle %d, discovery %d", len(life), len(disc))
	}
}

func TestTailMissingChannelIsEmpty(t *testing.T) {
	l := newLog(t)
	events, err := l.Tail("nonexistent", 0)
	if err != nil {
		t.Fatal(err)
	}
	if events != nil {
		t.Fatalf("expected nil, got %+v", events)
	}
}

func TestNilLogAppendIsNoop(t *testing.T) {
	var l *audit.Log
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.submitted"})
}

func TestTailSkipsTruncatedTrailingLine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := audit.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	l.Append(audit.ChannelLifecycle, audit.Event{Kind: "record.submitted"})
	f, err := os.OpenFile(filepath.Join(dir, "lifecycle.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"kind":"record.ass`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	events, err := l.Tail(audit.ChannelLifecycle, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != "record.submitted" {
		t.Fatalf("events = %+v", events)
	}
}
