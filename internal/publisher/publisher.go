package publisher

import (
	"context"
	"time"

	"yojak/internal/audit"
	"yojak/internal/config"
	"yojak/internal/domain"
	"yojak/internal/store"
)

// Publisher promotes scheduled content whose publish time has arrived.
// It operates directly against the record store and is safe to invoke
// repeatedly: anything already published is no longer scheduled and is
// simply skipped.
type Publisher struct {
	Store  store.Store
	Audit  *audit.Log
	Config *config.Config
	Now    func() time.Time
}

func New(s store.Store, a *audit.Log, cfg *config.Config) Publisher {
	return Publisher{Store: s, Audit: a, Config: cfg, Now: time.Now}
}

// Summary reports one publisher run.
type Summary struct {
	Published []string `json:"published"`
	Scanned   int      `json:"scanned"`
}

var contentTypes = []domain.RecordType{domain.TypeContentBlog, domain.TypeContentNews}

// Run scans all content records and publishes every scheduled one whose
// publish_at is at or before now. A record that fails to parse or
// persist is skipped and the run continues; one summary audit event is
// emitted per run, even when nothing was published.
func (p Publisher) Run(ctx context.Context) (Summary, error) {
	now := p.Now()
	if p.Config != nil {
		now = now.In(p.Config.Location())
	}
	var summary Summary
	for _, t := range contentTypes {
		recs, err := p.Store.List(ctx, t)
		if err != nil {
			return summary, err
		}
		for _, rec := range recs {
			summary.Scanned++
			if rec.Status != domain.StatusScheduled || rec.PublishAt == nil {
				continue
			}
			at, err := time.Parse(time.RFC3339, *rec.PublishAt)
			if err != nil {
				// bad stamp on one item must not sink the run
				continue
			}
			if at.After(now) {
				continue
			}
			stamp := now.Format(time.RFC3339)
			rec.Status = domain.StatusPublished
			rec.PublishedAt = &stamp
			rec.PublishAt = nil
			rec.UpdatedAt = stamp
			if err := p.Store.Put(ctx, rec); err != nil {
				continue
			}
			summary.Published = append(summary.Published, rec.ID)
		}
	}
	p.Audit.Append(audit.ChannelPublish, audit.Event{
		Kind: "publish.run",
		Meta: map[string]any{
			"published": summary.Published,
			"count":     len(summary.Published),
			"scanned":   summary.Scanned,
		},
	})
	return summary, nil
}
