package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"yojak/internal/audit"
	"yojak/internal/config"
	"yojak/internal/discovery"
	"yojak/internal/domain"
	"yojak/internal/engine"
	"yojak/internal/engine/auth"
	"yojak/internal/publisher"
	"yojak/internal/server"
	"yojak/internal/store"
)

const testSecret = "server-test-secret"

type testServer struct {
	*httptest.Server
	store store.Store
	logs  *audit.Log
	cfg   *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileStore(filepath.Join(dir, "records"))
	if err != nil {
		t.Fatal(err)
	}
	logs, err := audit.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default(dir)
	cfg.Cron.PublishToken = "publish-token"
	cfg.Cron.TenderTokens = []string{"tender-token"}

	eng := engine.New(st, logs, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC) }
	pub := publisher.New(st, logs, cfg)
	pub.Now = eng.Now
	disc := discovery.New(st, logs, cfg)
	disc.Now = eng.Now

	handler, err := server.New(server.Config{
		Engine:    eng,
		Publisher: pub,
		Discovery: disc,
		Auth:      server.AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st, logs: logs, cfg: cfg}
}

func mint(t *testing.T, actorID string, caps ...string) string {
	t.Helper()
	token, err := server.MintToken(testSecret, actorID, caps)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func doJSON(t *testing.T, srv *testServer, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealthNeedsNoToken(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	res := doJSON(t, srv, http.MethodGet, "/v0/health", "", nil, &body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body %v", body)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	var env errorEnvelope
	res := doJSON(t, srv, http.MethodGet, "/v0/records/ticket", "", nil, &env)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", res.StatusCode)
	}
	if env.Error.Code != "unauthorized" {
		t.Fatalf("code %q", env.Error.Code)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	staff := mint(t, "staff-9", auth.CapRequestsManage)

	var rec domain.Record
	res := doJSON(t, srv, http.MethodPost, "/v0/records/template_request", staff, map[string]any{
		"title":     "School website template",
		"applicant": "dept-edu",
	}, &rec)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d", res.StatusCode)
	}
	if rec.Status != domain.StatusSubmitted || rec.ID == "" {
		t.Fatalf("submitted record %+v", rec)
	}

	res = doJSON(t, srv, http.MethodPost, "/v0/records/template_request/"+rec.ID+"/assign", staff,
		map[string]any{"staff_id": "staff-9"}, &rec)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d", res.StatusCode)
	}
	if rec.Status != domain.StatusAssigned || rec.AssignedTo == nil || *rec.AssignedTo != "staff-9" {
		t.Fatalf("assigned record %+v", rec)
	}

	res = doJSON(t, srv, http.MethodPost, "/v0/records/template_request/"+rec.ID+"/resolve", staff,
		map[string]any{"status": "delivered", "linked_id": "TPL-FINAL-3"}, &rec)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d", res.StatusCode)
	}
	if rec.Status != domain.StatusDelivered || rec.LinkedID == nil || *rec.LinkedID != "TPL-FINAL-3" {
		t.Fatalf("resolved record %+v", rec)
	}

	var got domain.Record
	res = doJSON(t, srv, http.MethodGet, "/v0/records/template_request/"+rec.ID, staff, nil, &got)
	if res.StatusCode != http.StatusOK || got.Status != domain.StatusDelivered {
		t.Fatalf("readback %d %+v", res.StatusCode, got)
	}
}

func TestMissingCapabilityForbidden(t *testing.T) {
	srv := newTestServer(t)
	staff := mint(t, "staff-9", auth.CapRequestsManage)
	reader := mint(t, "reader-1")

	var rec domain.Record
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket", staff, map[string]any{"title": "Broken login"}, &rec)

	var env errorEnvelope
	res := doJSON(t, srv, http.MethodPost, "/v0/records/ticket/"+rec.ID+"/assign", reader,
		map[string]any{"staff_id": "reader-1"}, &env)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", res.StatusCode)
	}
	if env.Error.Code != "forbidden" || env.Error.Details["capability"] != auth.CapRequestsManage {
		t.Fatalf("envelope %+v", env)
	}

	got, err := srv.store.Get(context.Background(), domain.TypeTicket, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusOpen || got.AssignedTo != nil {
		t.Fatalf("record mutated by forbidden call: %+v", got)
	}
}

func TestTerminalRecordConflicts(t *testing.T) {
	srv := newTestServer(t)
	staff := mint(t, "staff-9", auth.CapRequestsManage)

	var rec domain.Record
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket", staff, map[string]any{"title": "Reset password"}, &rec)
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket/"+rec.ID+"/resolve", staff,
		map[string]any{"status": "resolved"}, &rec)
	if rec.Status != domain.StatusResolved {
		t.Fatalf("setup resolve failed: %+v", rec)
	}

	var env errorEnvelope
	res := doJSON(t, srv, http.MethodPost, "/v0/records/ticket/"+rec.ID+"/assign", staff,
		map[string]any{"staff_id": "staff-9"}, &env)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", res.StatusCode)
	}
	if env.Error.Code != "terminal_status" {
		t.Fatalf("code %q", env.Error.Code)
	}
}

func TestUnknownRecordType(t *testing.T) {
	srv := newTestServer(t)
	staff := mint(t, "staff-9", auth.CapRequestsManage)
	var env errorEnvelope
	res := doJSON(t, srv, http.MethodGet, "/v0/records/mystery", staff, nil, &env)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestListWithStatusFilter(t *testing.T) {
	srv := newTestServer(t)
	staff := mint(t, "staff-9", auth.CapRequestsManage)

	var a, b domain.Record
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket", staff, map[string]any{"title": "One"}, &a)
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket", staff, map[string]any{"title": "Two"}, &b)
	doJSON(t, srv, http.MethodPost, "/v0/records/ticket/"+b.ID+"/resolve", staff,
		map[string]any{"status": "resolved"}, nil)

	var list server.RecordListResponse
	res := doJSON(t, srv, http.MethodGet, "/v0/records/ticket?status=open", staff, nil, &list)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	if list.Count != 1 || len(list.Items) != 1 || list.Items[0].ID != a.ID {
		t.Fatalf("filtered list %+v", list)
	}
}

func TestCronPublishTokenGate(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/cron/publish?token=wrong")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong token status %d", res.StatusCode)
	}

	res2, err := http.Get(srv.URL + "/cron/publish?token=publish-token")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("good token status %d", res2.StatusCode)
	}
	body, _ := io.ReadAll(res2.Body)
	if !bytes.Contains(body, []byte("published 0 of 0 scanned")) {
		t.Fatalf("body %q", body)
	}
}

func TestCronPublishEmptyConfiguredTokenAlwaysForbidden(t *testing.T) {
	srv := newTestServer(t)
	srv.cfg.Cron.PublishToken = ""
	res, err := http.Get(srv.URL + "/cron/publish?token=")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestCronTendersBadTokenMutatesNothing(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/cron/tenders", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Cron-Token", "wrong")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", res.StatusCode)
	}
	var out server.CronResultResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Error != "invalid token" {
		t.Fatalf("body %+v", out)
	}

	tenders, err := srv.store.List(context.Background(), domain.TypeTender)
	if err != nil {
		t.Fatal(err)
	}
	if len(tenders) != 0 {
		t.Fatalf("store mutated on denied cron call: %d tenders", len(tenders))
	}
	events, err := srv.logs.Tail(audit.ChannelDiscovery, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != "discovery.denied" {
		t.Fatalf("denial not audited: %+v", events)
	}
}

func TestCronTendersRunsDiscovery(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ref":"GEM-7","title":"Network upgrade"}]`))
	}))
	t.Cleanup(feed.Close)

	srv := newTestServer(t)
	srv.cfg.Tenders.Sources = []config.TenderSource{{Name: "gem", URL: feed.URL}}

	res, err := http.Get(srv.URL + "/cron/tenders?token=tender-token")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var out struct {
		OK      bool              `json:"ok"`
		Summary discovery.Summary `json:"summary"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || out.Summary.Ingested != 1 {
		t.Fatalf("body %+v", out)
	}
	tenders, err := srv.store.List(context.Background(), domain.TypeTender)
	if err != nil {
		t.Fatal(err)
	}
	if len(tenders) != 1 || tenders[0].ExternalRef != "GEM-7" {
		t.Fatalf("tenders %+v", tenders)
	}
}
