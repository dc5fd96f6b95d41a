package domain

import "fmt"

// RecordType discriminates the kinds of records the portal tracks.
type RecordType string

const (
	TypeTemplateRequest RecordType = "template_request"
	TypePackRequest     RecordType = "pack_request"
	TypeTicket          RecordType = "ticket"
	TypeContentBlog     RecordType = "content_blog"
	TypeContentNews     RecordType = "content_news"
	TypeTender          RecordType = "tender"
)

// Status values across all record types. Each type only admits a subset,
// see the transition tables below.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusDelivered  Status = "delivered"
	StatusRejected   Status = "rejected"

	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"

	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"

	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// Record is the unit of persisted state. Timestamps are RFC3339 strings in
// the zone the process was configured with at startup.
type Record struct {
	ID          string         `json:"id"`
	Type        RecordType     `json:"type" enum:"template_request,pack_request,ticket,content_blog,content_news,tender"`
	Status      Status         `json:"status"`
	Title       string         `json:"title,omitempty"`
	Applicant   string         `json:"applicant,omitempty"`
	AssignedTo  *string        `json:"assigned_to,omitempty"`
	LinkedID    *string        `json:"linked_id,omitempty"`
	PublishAt   *string        `json:"publish_at,omitempty" format:"date-time"`
	PublishedAt *string        `json:"published_at,omitempty" format:"date-time"`
	Source      string         `json:"source,omitempty"`
	ExternalRef string         `json:"external_ref,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

// KnownTypes lists every record type the store manages.
var KnownTypes = []RecordType{
	TypeTemplateRequest,
	TypePackRequest,
	TypeTicket,
	TypeContentBlog,
	TypeContentNews,
	TypeTender,
}

// ValidType reports whether t names a known record type.
func ValidType(t RecordType) bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// InitialStatus returns the status a freshly created record of the given
// type starts in.
func InitialStatus(t RecordType) Status {
	switch t {
	case TypeTicket:
		return StatusOpen
	case TypeContentBlog, TypeContentNews:
		return StatusDraft
	case TypeTender:
		return StatusPending
	default:
		return StatusSubmitted
	}
}

var requestTransitions = map[Status][]Status{
	StatusSubmitted:  {StatusAssigned},
	StatusAssigned:   {StatusInProgress, StatusDelivered, StatusRejected},
	StatusInProgress: {StatusDelivered, StatusRejected},
}

var contentTransitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusPublished},
	StatusScheduled: {StatusPublished, StatusDraft},
}

// transitions maps, per record type, each status to the statuses it may
// move to. Statuses absent from a type's map are terminal.
var transitions = map[RecordType]map[Status][]Status{
	TypeTemplateRequest: requestTransitions,
	TypePackRequest:     requestTransitions,
	TypeTicket: {
		StatusOpen:       {StatusInProgress, StatusResolved},
		StatusInProgress: {StatusResolved},
	},
	TypeContentBlog: contentTransitions,
	TypeContentNews: contentTransitions,
	TypeTender: {
		StatusPending: {StatusApproved, StatusRejected},
	},
}

// TerminalError reports an attempted transition out of a terminal status.
type TerminalError struct {
	Type   RecordType
	ID     string
	Status Status
}

func (e TerminalError) Error() string {
	return fmt.Sprintf("%s %s is %s; no further transitions", e.Type, e.ID, e.Status)
}

// Terminal reports whether a record of type t in status s admits no
// further transition.
func Terminal(t RecordType, s Status) bool {
	m, ok := transitions[t]
	if !ok {
		return false
	}
	_, live := m[s]
	return !live
}

// CanTransition reports whether a record of type t may move from old to
// next. Re-entering the current non-terminal status is allowed so the
// workflow operations stay idempotent.
func CanTransition(t RecordType, old, next Status) bool {
	m, ok := transitions[t]
	if !ok {
		return false
	}
	allowed, live := m[old]
	if !live {
		return false
	}
	if next == old {
		return true
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// KnownStatus reports whether s is a status a record of type t can ever
// hold.
func KnownStatus(t RecordType, s Status) bool {
	m, ok := transitions[t]
	if !ok {
		return false
	}
	if _, live := m[s]; live {
		return true
	}
	for _, tos := range m {
		for _, to := range tos {
			if to == s {
				return true
			}
		}
	}
	return s == InitialStatus(t)
}
