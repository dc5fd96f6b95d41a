package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"yojak/internal/audit"
	"yojak/internal/config"
	"yojak/internal/domain"
	"yojak/internal/engine/auth"
	"yojak/internal/store"
)

// Engine validates and applies lifecycle changes to records. All
// mutations flow through it; it never caches records, every change is
// written back through the store immediately.
type Engine struct {
	Store  store.Store
	Audit  *audit.Log
	Config *config.Config
	Now    func() time.Time
}

func New(s store.Store, a *audit.Log, cfg *config.Config) Engine {
	return Engine{
		Store:  s,
		Audit:  a,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	return t.In(e.location())
}

func (e Engine) location() *time.Location {
	if e.Config != nil {
		return e.Config.Location()
	}
	return time.UTC
}

func (e Engine) stamp() string {
	return e.now().Format(time.RFC3339)
}

var idPrefixes = map[domain.RecordType]string{
	domain.TypeTemplateRequest: "TPL",
	domain.TypePackRequest:     "PACK",
	domain.TypeTicket:          "TKT",
	domain.TypeContentBlog:     "BLG",
	domain.TypeContentNews:     "NWS",
	domain.TypeTender:          "TND",
}

// NewID generates a new record id with a type-specific prefix.
func NewID(t domain.RecordType) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return idPrefixes[t] + "-" + raw[:10]
}

// Transition returns a copy of rec moved to next, with UpdatedAt
// refreshed. The input record is not mutated; the caller persists the
// result. Transitions out of a terminal status fail with
// domain.TerminalError, anything else outside the type's table fails
// with a validation error.
func (e Engine) Transition(rec domain.Record, next domain.Status) (domain.Record, error) {
	if domain.Terminal(rec.Type, rec.Status) {
		return rec, domain.TerminalError{Type: rec.Type, ID: rec.ID, Status: rec.Status}
	}
	if !domain.CanTransition(rec.Type, rec.Status, next) {
		return rec, fmt.Errorf("invalid %s transition %s -> %s", rec.Type, rec.Status, next)
	}
	out := rec
	out.Status = next
	out.UpdatedAt = e.stamp()
	return out, nil
}

// SubmitOptions are parameters for creating a record through intake.
type SubmitOptions struct {
	Type      domain.RecordType
	ID        string
	Title     string
	Applicant string
	Extra     map[string]any
	ActorID   string
}

// Submit creates a record in its type's initial status and persists it.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Record, error) {
	if !domain.ValidType(opts.Type) {
		return domain.Record{}, fmt.Errorf("unknown record type %q", opts.Type)
	}
	if opts.Title == "" {
		return domain.Record{}, fmt.Errorf("title is required")
	}
	id := opts.ID
	if id == "" {
		id = NewID(opts.Type)
	}
	now := e.stamp()
	rec := domain.Record{
		ID:        id,
		Type:      opts.Type,
		Status:    domain.InitialStatus(opts.Type),
		Title:     opts.Title,
		Applicant: opts.Applicant,
		Extra:     opts.Extra,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Store.Put(ctx, rec); err != nil {
		return domain.Record{}, err
	}
	e.Audit.Append(audit.ChannelLifecycle, audit.Event{
		Kind:       "record.submitted",
		RecordType: rec.Type,
		RecordID:   rec.ID,
		Status:     rec.Status,
		Actor:      opts.ActorID,
	})
	return rec, nil
}

// Assign moves the record to assigned and records the staff member it is
// assigned to. Re-assigning an already assigned record is a no-op apart
// from UpdatedAt. The capability check runs before any store access.
func (e Engine) Assign(ctx context.Context, t domain.RecordType, id, staffID string, actor auth.Actor) (domain.Record, error) {
	if err := auth.Require(actor, auth.CapRequestsManage); err != nil {
		return domain.Record{}, err
	}
	if strings.TrimSpace(staffID) == "" {
		return domain.Record{}, fmt.Errorf("staff id is required")
	}
	rec, err := e.Store.Get(ctx, t, id)
	if err != nil {
		return domain.Record{}, err
	}
	out, err := e.Transition(rec, domain.StatusAssigned)
	if err != nil {
		return rec, err
	}
	out.AssignedTo = &staffID
	if err := e.Store.Put(ctx, out); err != nil {
		return rec, err
	}
	e.Audit.Append(audit.ChannelLifecycle, audit.Event{
		Kind:       "record.assigned",
		RecordType: out.Type,
		RecordID:   out.ID,
		Status:     out.Status,
		AssignedTo: staffID,
		Actor:      actor.ID,
	})
	return out, nil
}

// resolutionStatuses lists, per type, the statuses a resolve call may
// request.
var resolutionStatuses = map[domain.RecordType][]domain.Status{
	domain.TypeTemplateRequest: {domain.StatusInProgress, domain.StatusDelivered, domain.StatusRejected},
	domain.TypePackRequest:     {domain.StatusInProgress, domain.StatusDelivered, domain.StatusRejected},
	domain.TypeTicket:          {domain.StatusInProgress, domain.StatusResolved},
	domain.TypeTender:          {domain.StatusApproved, domain.StatusRejected},
}

// normalizeResolution coerces a resolution status outside the type's
// allowed set to in_progress instead of rejecting it. Deliberate policy
// carried over from the portal this replaces; kept in one named place so
// a future switch to hard rejection touches a single site.
func normalizeResolution(t domain.RecordType, s domain.Status) (domain.Status, bool) {
	for _, allowed := range resolutionStatuses[t] {
		if s == allowed {
			return s, false
		}
	}
	return domain.StatusInProgress, true
}

// Resolve moves the record toward a terminal state. A blank linkedID
// never clears an existing link; an unknown status coerces to
// in_progress (see normalizeResolution).
func (e Engine) Resolve(ctx context.Context, t domain.RecordType, id string, status domain.Status, linkedID string, actor auth.Actor) (domain.Record, error) {
	if err := auth.Require(actor, auth.CapRequestsManage); err != nil {
		return domain.Record{}, err
	}
	target, coerced := normalizeResolution(t, status)
	rec, err := e.Store.Get(ctx, t, id)
	if err != nil {
		return domain.Record{}, err
	}
	out, err := e.Transition(rec, target)
	if err != nil {
		return rec, err
	}
	if strings.TrimSpace(linkedID) != "" {
		out.LinkedID = &linkedID
	}
	if err := e.Store.Put(ctx, out); err != nil {
		return rec, err
	}
	evt := audit.Event{
		Kind:       "record.resolved",
		RecordType: out.Type,
		RecordID:   out.ID,
		Status:     out.Status,
		Actor:      actor.ID,
	}
	if out.LinkedID != nil {
		evt.LinkedID = *out.LinkedID
	}
	if out.AssignedTo != nil {
		evt.AssignedTo = *out.AssignedTo
	}
	if coerced {
		evt.Meta = map[string]any{"requested_status": string(status)}
	}
	e.Audit.Append(audit.ChannelLifecycle, evt)
	return out, nil
}

// Schedule stamps a content record with a publish time and moves it to
// scheduled. The publish time is interpreted in the configured zone.
func (e Engine) Schedule(ctx context.Context, t domain.RecordType, id string, publishAt time.Time, actor auth.Actor) (domain.Record, error) {
	if err := auth.Require(actor, auth.CapContentManage); err != nil {
		return domain.Record{}, err
	}
	if t != domain.TypeContentBlog && t != domain.TypeContentNews {
		return domain.Record{}, fmt.Errorf("invalid content type %q", t)
	}
	rec, err := e.Store.Get(ctx, t, id)
	if err != nil {
		return domain.Record{}, err
	}
	out, err := e.Transition(rec, domain.StatusScheduled)
	if err != nil {
		return rec, err
	}
	// RFC3339Nano keeps sub-second publish times exact; plain RFC3339
	// would truncate them to the previous second.
	at := publishAt.In(e.location()).Format(time.RFC3339Nano)
	out.PublishAt = &at
	if err := e.Store.Put(ctx, out); err != nil {
		return rec, err
	}
	e.Audit.Append(audit.ChannelLifecycle, audit.Event{
		Kind:       "content.scheduled",
		RecordType: out.Type,
		RecordID:   out.ID,
		Status:     out.Status,
		Actor:      actor.ID,
		Meta:       map[string]any{"publish_at": at},
	})
	return out, nil
}
