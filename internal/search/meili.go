package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxInteractions = "leaddesk_interactions"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. The client
// is returned even when the server is down; a background loop tracks health.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxInteractions,
		PrimaryKey: "docId",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxInteractions, err)
	}

	index := m.client.Index(idxInteractions)
	filterable := []interface{}{"leadId", "kind", "source"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"subject", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
	sortable := []string{"occurredAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Empty reports whether the index holds no documents yet.
func (m *Meili) Empty() (bool, error) {
	stats, err := m.client.Index(idxInteractions).GetStats()
	if err != nil {
		return false, err
	}
	return stats.NumberOfDocuments == 0, nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.LeadID != "" {
		filters = append(filters, fmt.Sprintf("leadId = %q", q.LeadID))
	}
	if q.Kind != "" {
		filters = append(filters, fmt.Sprintf("kind = %q", q.Kind))
	}
	return filters
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit, offset := normalizeWindow(q)

	request := &meili.SearchRequest{
		Limit:                 int64(limit),
		Offset:                int64(offset),
		AttributesToHighlight: []string{"subject", "body"},
		AttributesToCrop:      []string{"body"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		request.Filter = filters
	}

	resp, err := m.client.Index(idxInteractions).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:     decodeString(hit, "interactionId"),
		LeadID: decodeString(hit, "leadId"),
		Kind:   decodeString(hit, "kind"),
		Source: decodeString(hit, "source"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "subject"), decodeString(hit, "subject"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	if raw, ok := hit["occurredAt"]; ok {
		var unix int64
		if err := json.Unmarshal(raw, &unix); err == nil && unix > 0 {
			r.OccurredAt = time.Unix(unix, 0).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or replaces records.
func (m *Meili) Index(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxInteractions).AddDocuments(records, nil)
	return err
}
