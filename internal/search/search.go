package search

import (
	"strings"
	"time"

	"leaddesk/api/internal/richtext"
	"leaddesk/api/internal/timeline"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"leadId"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Kind   string // empty = all kinds
	LeadID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for one interaction. Meilisearch primary keys
// cannot contain ':' so DocID is the interaction id with ':' replaced.
type Record struct {
	DocID         string `json:"docId"`
	InteractionID string `json:"interactionId"`
	LeadID        string `json:"leadId"`
	Kind          string `json:"kind"`
	Source        string `json:"source"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	OccurredAt    int64  `json:"occurredAt"`
}

func docID(interactionID string) string {
	return strings.ReplaceAll(interactionID, ":", "_")
}

// RecordFromInteraction flattens an interaction into its index record.
func RecordFromInteraction(item timeline.Interaction) Record {
	body := item.Content
	if item.HTML {
		body = richtext.PlainText(body)
	}
	var occurred int64
	if !item.OccurredAt.IsZero() {
		occurred = item.OccurredAt.Unix()
	}
	return Record{
		DocID:         docID(item.ID),
		InteractionID: item.ID,
		LeadID:        item.LeadID,
		Kind:          string(item.Kind),
		Source:        string(item.Source),
		Subject:       item.Subject,
		Body:          body,
		OccurredAt:    occurred,
	}
}

func normalizeWindow(q Query) (int, int) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
