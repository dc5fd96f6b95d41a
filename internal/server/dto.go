package server

import "yojak/internal/domain"

// Request payloads

type SubmitRecordRequest struct {
	ID        *string        `json:"id,omitempty"`
	Title     string         `json:"title"`
	Applicant *string        `json:"applicant,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type AssignRecordRequest struct {
	StaffID string `json:"staff_id"`
}

type ResolveRecordRequest struct {
	Status   string  `json:"status"`
	LinkedID *string `json:"linked_id,omitempty"`
}

type ScheduleContentRequest struct {
	PublishAt string `json:"publish_at" format:"date-time"`
}

// Response payloads

type RecordListResponse struct {
	Items []domain.Record `json:"items"`
	Count int             `json:"count"`
}

type CronResultResponse struct {
	OK      bool   `json:"ok"`
	Summary any    `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}
