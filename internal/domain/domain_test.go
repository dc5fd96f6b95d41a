package domain_test

import (
	"testing"

	"yojak/internal/domain"
)

func TestInitialStatusPerType(t *testing.T) {
	cases := map[domain.RecordType]domain.Status{
		domain.TypeTemplateRequest: domain.StatusSubmitted,
		domain.TypePackRequest:     domain.StatusSubmitted,
		domain.TypeTicket:          domain.StatusOpen,
		domain.TypeContentBlog:     domain.StatusDraft,
		domain.TypeContentNews:     domain.StatusDraft,
		domain.TypeTender:          domain.StatusPending,
	}
	for typ, want := range cases {
		if got := domain.InitialStatus(typ); got != want {
			t.Errorf("InitialStatus(%s) = %s, want %s", typ, got, want)
		}
	}
}

func TestRequestTransitions(t *testing.T) {
	for _, typ := range []domain.RecordType{domain.TypeTemplateRequest, domain.TypePackRequest} {
		if !domain.CanTransition(typ, domain.StatusSubmitted, domain.StatusAssigned) {
			t.Errorf("%s: submitted -> assigned should be allowed", typ)
		}
		if domain.CanTransition(typ, domain.StatusSubmitted, domain.StatusDelivered) {
			t.Errorf("%s: submitted -> delivered must go through assignment", typ)
		}
		// assigned may resolve directly without an in_progress step
		if !domain.CanTransition(typ, domain.StatusAssigned, domain.StatusDelivered) {
			t.Errorf("%s: assigned -> delivered should be allowed", typ)
		}
		if !domain.CanTransition(typ, domain.StatusAssigned, domain.StatusRejected) {
			t.Errorf("%s: assigned -> rejected should be allowed", typ)
		}
		if domain.CanTransition(typ, domain.StatusDelivered, domain.StatusAssigned) {
			t.Errorf("%s: delivered is terminal", typ)
		}
	}
}

func TestTicketCanSkipInProgress(t *testing.T) {
	if !domain.CanTransition(domain.TypeTicket, domain.StatusOpen, domain.StatusResolved) {
		t.Error("open -> resolved should be allowed")
	}
	if domain.CanTransition(domain.TypeTicket, domain.StatusResolved, domain.StatusOpen) {
		t.Error("resolved tickets must not reopen")
	}
}

func TestContentScheduleRoundtrip(t *testing.T) {
	if !domain.CanTransition(domain.TypeContentNews, domain.StatusScheduled, domain.StatusDraft) {
		t.Error("scheduled content should be unschedulable back to draft")
	}
	if !domain.CanTransition(domain.TypeContentNews, domain.StatusDraft, domain.StatusPublished) {
		t.Error("draft -> published should be allowed")
	}
	if domain.CanTransition(domain.TypeContentNews, domain.StatusPublished, domain.StatusDraft) {
		t.Error("published is terminal")
	}
}

func TestSameStatusIdempotentUnlessTerminal(t *testing.T) {
	if !domain.CanTransition(domain.TypeTicket, domain.StatusOpen, domain.StatusOpen) {
		t.Error("re-entering a live status should be allowed")
	}
	if domain.CanTransition(domain.TypeTicket, domain.StatusResolved, domain.StatusResolved) {
		t.Error("terminal statuses admit nothing, including themselves")
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		typ  domain.RecordType
		s    domain.Status
		want bool
	}{
		{domain.TypeTemplateRequest, domain.StatusDelivered, true},
		{domain.TypeTemplateRequest, domain.StatusRejected, true},
		{domain.TypeTemplateRequest, domain.StatusAssigned, false},
		{domain.TypeTicket, domain.StatusResolved, true},
		{domain.TypeContentBlog, domain.StatusPublished, true},
		{domain.TypeTender, domain.StatusApproved, true},
		{domain.TypeTender, domain.StatusPending, false},
	}
	for _, tc := range cases {
		if got := domain.Terminal(tc.typ, tc.s); got != tc.want {
			t.Errorf("Terminal(%s, %s) = %v, want %v", tc.typ, tc.s, got, tc.want)
		}
	}
}

func TestKnownStatus(t *testing.T) {
	if !domain.KnownStatus(domain.TypeTicket, domain.StatusResolved) {
		t.Error("resolved is a ticket status")
	}
	if domain.KnownStatus(domain.TypeTicket, domain.StatusDelivered) {
		t.Error("delivered is not a ticket status")
	}
	if !domain.KnownStatus(domain.TypeTender, domain.StatusPending) {
		t.Error("pending is the tender initial status")
	}
}

func TestValidType(t *testing.T) {
	if !domain.ValidType(domain.TypeTender) {
		t.Error("tender should be valid")
	}
	if domain.ValidType("invoice") {
		t.Error("invoice is not a known type")
	}
}
