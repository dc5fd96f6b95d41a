package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"yojak/internal/audit"
	"yojak/internal/discovery"
	"yojak/internal/domain"
	"yojak/internal/engine"
	"yojak/internal/engine/auth"
	"yojak/internal/publisher"
	"yojak/internal/store"
)

// Config for the HTTP handler.
type Config struct {
	Engine    engine.Engine
	Publisher publisher.Publisher
	Discovery discovery.Runner
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"record not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Yojak API and cron endpoints.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Yojak API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRecords(group, cfg.Engine)
	registerCron(router, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": fe.Capability})
	}
	var te domain.TerminalError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "terminal_status", err.Error(), map[string]any{"status": string(te.Status)})
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func parseRecordType(raw string) (domain.RecordType, huma.StatusError) {
	t := domain.RecordType(raw)
	if !domain.ValidType(t) {
		return "", newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown record type %q", raw), nil)
	}
	return t, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type recordOutput struct {
	Body domain.Record
}

func registerRecords(api huma.API, e engine.Engine) {
	type TypePath struct {
		Type string `path:"type"`
	}
	type RecordPath struct {
		Type string `path:"type"`
		ID   string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-record",
		Method:      http.MethodPost,
		Path:        "/records/{type}",
		Summary:     "Submit a new record",
	}, func(ctx context.Context, input *struct {
		TypePath
		Body SubmitRecordRequest
	}) (*recordOutput, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		opts := engine.SubmitOptions{
			Type:    t,
			Title:   input.Body.Title,
			Extra:   input.Body.Extra,
			ActorID: actor.ID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Applicant != nil {
			opts.Applicant = *input.Body.Applicant
		}
		rec, err := e.Submit(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records/{type}",
		Summary:     "List records of a type",
	}, func(ctx context.Context, input *struct {
		TypePath
		Status string `query:"status"`
	}) (*struct {
		Body RecordListResponse
	}, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		recs, err := e.Store.List(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := recs[:0]
			for _, r := range recs {
				if r.Status == domain.Status(input.Status) {
					filtered = append(filtered, r)
				}
			}
			recs = filtered
		}
		return &struct {
			Body RecordListResponse
		}{Body: RecordListResponse{Items: recs, Count: len(recs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{type}/{id}",
		Summary:     "Fetch one record",
	}, func(ctx context.Context, input *RecordPath) (*recordOutput, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		rec, err := e.Store.Get(ctx, t, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-record",
		Method:      http.MethodPost,
		Path:        "/records/{type}/{id}/assign",
		Summary:     "Assign a record to a staff member",
	}, func(ctx context.Context, input *struct {
		RecordPath
		Body AssignRecordRequest
	}) (*recordOutput, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		rec, err := e.Assign(ctx, t, input.ID, input.Body.StaffID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-record",
		Method:      http.MethodPost,
		Path:        "/records/{type}/{id}/resolve",
		Summary:     "Resolve a record, optionally linking a produced artifact",
	}, func(ctx context.Context, input *struct {
		RecordPath
		Body ResolveRecordRequest
	}) (*recordOutput, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		linked := ""
		if input.Body.LinkedID != nil {
			linked = *input.Body.LinkedID
		}
		rec, err := e.Resolve(ctx, t, input.ID, domain.Status(input.Body.Status), linked, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-content",
		Method:      http.MethodPost,
		Path:        "/records/{type}/{id}/schedule",
		Summary:     "Schedule a content record for publication",
	}, func(ctx context.Context, input *struct {
		RecordPath
		Body ScheduleContentRequest
	}) (*recordOutput, error) {
		t, terr := parseRecordType(input.Type)
		if terr != nil {
			return nil, terr
		}
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		at, err := time.Parse(time.RFC3339, input.Body.PublishAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "publish_at must be RFC3339", nil)
		}
		rec, err := e.Schedule(ctx, t, input.ID, at, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})
}

func cronToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get("X-Cron-Token"))
}

// registerCron wires the automation-facing endpoints. They sit outside
// the API base path and authenticate with shared tokens only.
func registerCron(router chi.Router, cfg Config) {
	router.Get("/cron/publish", func(w http.ResponseWriter, r *http.Request) {
		token := cronToken(r)
		configured := cfg.Engine.Config.Cron.PublishToken
		if configured == "" || token != configured {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, "forbidden")
			return
		}
		summary, err := cfg.Publisher.Run(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "publish run failed: %v\n", err)
			return
		}
		fmt.Fprintf(w, "published %d of %d scanned: %s\n",
			len(summary.Published), summary.Scanned, strings.Join(summary.Published, ", "))
	})

	router.Get("/cron/tenders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		token := cronToken(r)
		if !cfg.Engine.Config.TenderTokenAllowed(token) {
			cfg.Discovery.Audit.Append(audit.ChannelDiscovery, audit.Event{
				Kind: "discovery.denied",
				Meta: map[string]any{
					"remote_addr": r.RemoteAddr,
					"user_agent":  r.UserAgent(),
				},
			})
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(CronResultResponse{OK: false, Error: "invalid token"})
			return
		}
		summary, err := cfg.Discovery.Run(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(CronResultResponse{OK: false, Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(CronResultResponse{OK: true, Summary: summary})
	})
}
