package search

import (
	"context"
	"log"

	"leaddesk/api/internal/timeline"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili   *Meili
	pgfts   Searcher
	records func(ctx context.Context) ([]Record, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili}
	if pgfts != nil {
		s.pgfts = pgfts
		s.records = pgfts.LoadAllRecords
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexInteractions pushes interactions to Meilisearch in the background.
func (s *Service) IndexInteractions(items ...timeline.Interaction) {
	if s.meili == nil || !s.meili.Healthy() || len(items) == 0 {
		return
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, RecordFromInteraction(item))
	}
	go func() {
		if err := s.meili.Index(records); err != nil {
			log.Printf("search: index %d interactions: %v", len(records), err)
		}
	}()
}

// ReindexAllFromPG loads every interaction from PostgreSQL into Meilisearch
// when the index is empty.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.records == nil {
		return
	}
	empty, err := s.meili.Empty()
	if err != nil {
		log.Printf("search: index stats: %v", err)
		return
	}
	if !empty {
		return
	}
	records, err := s.records(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.Index(records); err != nil {
		log.Printf("search: reindex %d interactions: %v", len(records), err)
		return
	}
	log.Printf("search: reindexed %d interactions", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
