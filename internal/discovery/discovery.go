package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"yojak/internal/audit"
	"yojak/internal/config"
	"yojak/internal/domain"
	"yojak/internal/engine"
	"yojak/internal/store"
)

const defaultFetchTimeout = 15 * time.Second

// Runner pulls tender items from the configured external sources,
// deduplicates against tenders already in the store, and ingests new
// ones as pending records.
type Runner struct {
	Store  store.Store
	Audit  *audit.Log
	Config *config.Config
	Client *http.Client
	Now    func() time.Time
}

func New(s store.Store, a *audit.Log, cfg *config.Config) Runner {
	return Runner{
		Store:  s,
		Audit:  a,
		Config: cfg,
		Client: &http.Client{Timeout: defaultFetchTimeout},
		Now:    time.Now,
	}
}

// Summary reports one discovery run.
type Summary struct {
	Discovered int      `json:"discovered"`
	Ingested   int      `json:"ingested"`
	Duplicates int      `json:"duplicates"`
	Failures   []string `json:"failures,omitempty"`
}

// sourceItem is the shape each source endpoint returns, one per tender.
type sourceItem struct {
	Ref       string         `json:"ref"`
	Title     string         `json:"title"`
	Authority string         `json:"authority,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func dedupeKey(source, ref string) string {
	return source + "|" + ref
}

// Run executes discovery over every configured source. A failing source
// is recorded in Failures and the run continues with the rest. Any panic
// inside the run is recovered and converted into an error; the caller
// always gets a well-formed result.
func (r Runner) Run(ctx context.Context) (summary Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("discovery run panicked: %v", rec)
		}
	}()

	known := map[string]bool{}
	existing, err := r.Store.List(ctx, domain.TypeTender)
	if err != nil {
		return summary, err
	}
	for _, t := range existing {
		known[dedupeKey(t.Source, t.ExternalRef)] = true
	}

	now := r.Now()
	if r.Config != nil {
		now = now.In(r.Config.Location())
	}
	stamp := now.Format(time.RFC3339)

	for _, src := range r.Config.Tenders.Sources {
		items, ferr := r.fetch(ctx, src)
		if ferr != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", src.Name, ferr))
			continue
		}
		for _, item := range items {
			if item.Ref == "" || item.Title == "" {
				// skip malformed entries rather than aborting the source
				continue
			}
			summary.Discovered++
			key := dedupeKey(src.Name, item.Ref)
			if known[key] {
				summary.Duplicates++
				continue
			}
			rec := domain.Record{
				ID:          engine.NewID(domain.TypeTender),
				Type:        domain.TypeTender,
				Status:      domain.StatusPending,
				Title:       item.Title,
				Source:      src.Name,
				ExternalRef: item.Ref,
				Extra:       item.Details,
				CreatedAt:   stamp,
				UpdatedAt:   stamp,
			}
			if item.Authority != "" {
				if rec.Extra == nil {
					rec.Extra = map[string]any{}
				}
				rec.Extra["authority"] = item.Authority
			}
			if perr := r.Store.Put(ctx, rec); perr != nil {
				summary.Failures = append(summary.Failures, fmt.Sprintf("%s/%s: %v", src.Name, item.Ref, perr))
				continue
			}
			known[key] = true
			summary.Ingested++
		}
	}

	r.Audit.Append(audit.ChannelDiscovery, audit.Event{
		Kind: "discovery.run",
		Meta: map[string]any{
			"discovered": summary.Discovered,
			"ingested":   summary.Ingested,
			"duplicates": summary.Duplicates,
			"failures":   summary.Failures,
		},
	})
	return summary, nil
}

func (r Runner) fetch(ctx context.Context, src config.TenderSource) ([]sourceItem, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var items []sourceItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode source payload: %w", err)
	}
	return items, nil
}
