package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"leaddesk/api/internal/timeline"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

type ftsSource struct {
	kinds  []string
	source string
	sql    string
}

// Each sub-query yields (id, lead_id, kind, source, title, body, occurred_at,
// vector). The vector expressions match the GIN indexes in the migrations.
var ftsSources = []ftsSource{
	{
		kinds:  []string{"email"},
		source: "email",
		sql: `SELECT 'email:' || id::text AS id, lead_id, 'email'::text AS kind, 'email'::text AS source,
				COALESCE(subject, '') AS title, COALESCE(body_text, '') AS body, sent_at AS occurred_at,
				to_tsvector('simple', COALESCE(subject, '') || ' ' || COALESCE(body_text, '')) AS vector
			FROM lead_emails`,
	},
	{
		kinds:  []string{"whatsapp"},
		source: "whatsapp",
		sql: `SELECT 'whatsapp:' || id::text, lead_id, 'whatsapp'::text, 'whatsapp'::text,
				COALESCE(contact_name, ''), COALESCE(body, ''), sent_at,
				to_tsvector('simple', COALESCE(body, ''))
			FROM whatsapp_messages`,
	},
	{
		kinds:  []string{"call"},
		source: "call_log",
		sql: `SELECT 'call_log:' || id::text, COALESCE(lead_id, ''), 'call'::text, 'call_log'::text,
				status, COALESCE(notes, ''), started_at,
				to_tsvector('simple', COALESCE(notes, ''))
			FROM call_logs
			WHERE lead_id IS NOT NULL`,
	},
	{
		kinds:  []string{"email", "whatsapp", "call", "note"},
		source: "legacy",
		sql: `SELECT 'legacy:' || id::text, lead_ref, COALESCE(channel, ''), 'legacy'::text,
				''::text, description, created_at,
				to_tsvector('simple', description)
			FROM legacy_interactions`,
	},
	{
		kinds:  []string{"email", "whatsapp", "call", "note"},
		source: "manual",
		sql: `SELECT 'manual:lli-' || id::text, 'legacy-' || legacy_lead_id::text, COALESCE(interaction_type, ''), 'manual'::text,
				COALESCE(subject, ''), content, occurred_at,
				to_tsvector('simple', COALESCE(subject, '') || ' ' || content)
			FROM legacy_lead_interactions`,
	},
}

func (s ftsSource) serves(kind string) bool {
	if kind == "" {
		return true
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Search runs plainto_tsquery over every interaction table. Rows whose kind
// is stored as a free-text label are classified after the scan, so a kind
// filter on those sources is applied in Go.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizeWindow(q)

	args := []any{q.Text}
	where := "sub.vector @@ plainto_tsquery('simple', $1)"
	if q.LeadID != "" {
		args = append(args, q.LeadID)
		where += fmt.Sprintf(" AND sub.lead_id = $%d", len(args))
	}

	var parts []string
	for _, src := range ftsSources {
		if src.serves(q.Kind) {
			parts = append(parts, src.sql)
		}
	}
	if len(parts) == 0 {
		return nil, 0, nil
	}

	dataSQL := fmt.Sprintf(`SELECT id, lead_id, kind, source, title,
			ts_headline('simple', body, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			occurred_at
		FROM (%s) sub
		WHERE %s
		ORDER BY ts_rank(sub.vector, plainto_tsquery('simple', $1)) DESC, occurred_at DESC`,
		strings.Join(parts, " UNION ALL "), where)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	matched := make([]Result, 0)
	for rows.Next() {
		var (
			r     Result
			label string
		)
		if err := rows.Scan(&r.ID, &r.LeadID, &label, &r.Source, &r.Title, &r.Snippet, &r.OccurredAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = string(timeline.InferKind(label, r.Snippet))
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		r.OccurredAt = r.OccurredAt.UTC()
		matched = append(matched, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}

	total := len(matched)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// LoadAllRecords returns every indexable interaction for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	parts := make([]string, 0, len(ftsSources))
	for _, src := range ftsSources {
		parts = append(parts, src.sql)
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, lead_id, kind, source, title, body, occurred_at FROM (%s) sub`,
		strings.Join(parts, " UNION ALL ")))
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			r        Record
			label    string
			occurred time.Time
		)
		if err := rows.Scan(&r.InteractionID, &r.LeadID, &label, &r.Source, &r.Subject, &r.Body, &occurred); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		r.DocID = docID(r.InteractionID)
		r.Kind = string(timeline.InferKind(label, r.Body))
		r.OccurredAt = occurred.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return records, nil
}
