package audit

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yojak/internal/domain"
)

// Channel names used by the lifecycle engine and the cron jobs.
const (
	ChannelLifecycle = "lifecycle"
	ChannelPublish   = "publish"
	ChannelDiscovery = "discovery"
)

// Event is one structured audit entry, serialized as a single JSON line.
type Event struct {
	TS         string            `json:"ts"`
	Kind       string            `json:"kind"`
	RecordType domain.RecordType `json:"record_type,omitempty"`
	RecordID   string            `json:"record_id,omitempty"`
	Status     domain.Status     `json:"status,omitempty"`
	LinkedID   string            `json:"linked_id,omitempty"`
	AssignedTo string            `json:"assigned_to,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Meta       map[string]any    `json:"meta,omitempty"`
}

// Log appends events to per-channel <dir>/<channel>.log files. Appends
// are best-effort: a write failure is reported to the process logger and
// never surfaced to the caller, so logging can't roll back a state
// change.
type Log struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// New returns a Log rooted at dir, creating it if needed.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Log{dir: dir, now: time.Now}, nil
}

// SetClock overrides the timestamp source. Test hook.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Append writes the event as one JSON line to the channel's log file.
func (l *Log) Append(channel string, evt Event) {
	if l == nil {
		return
	}
	if evt.TS == "" {
		evt.TS = l.now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("audit: marshal event: %v", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(l.dir, channel+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("audit: open %s log: %v", channel, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("audit: append to %s log: %v", channel, err)
	}
}

// Tail returns up to n most recent events from the channel, oldest first.
// Malformed lines are skipped.
func (l *Log) Tail(channel string, n int) ([]Event, error) {
	f, err := os.Open(filepath.Join(l.dir, channel+".log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var evt Event
		if err := dec.Decode(&evt); err != nil {
			break
		}
		events = append(events, evt)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
