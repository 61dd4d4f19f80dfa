package timeline

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"leaddesk/api/internal/store"
)

const loadTimeout = 15 * time.Second

// Fetcher reads the raw rows of one lead from every source table.
type Fetcher interface {
	ManualInteractions(ctx context.Context, ref store.LeadRef) ([]store.ManualInteraction, error)
	LeadEmails(ctx context.Context, ref store.LeadRef) ([]store.LeadEmail, error)
	WhatsAppMessages(ctx context.Context, ref store.LeadRef) ([]store.WhatsAppMessage, error)
	CallLogs(ctx context.Context, ref store.LeadRef) ([]store.CallLog, error)
	LegacyInteractions(ctx context.Context, ref store.LeadRef) ([]store.LegacyInteraction, error)
}

// Cache keeps the last reconciled timeline per lead.
type Cache interface {
	Get(ctx context.Context, leadID string) ([]Interaction, bool, error)
	Set(ctx context.Context, leadID string, items []Interaction) error
	Invalidate(ctx context.Context, leadID string) error
}

type Options struct {
	Refresh bool
	Kinds   []Kind
}

type Service struct {
	fetcher             Fetcher
	cache               Cache
	minMeaningfulLength int
	group               singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// NewService wires the pipeline. cache may be nil.
func NewService(fetcher Fetcher, cache Cache, minMeaningfulLength int) *Service {
	return &Service{
		fetcher:             fetcher,
		cache:               cache,
		minMeaningfulLength: minMeaningfulLength,
		generations:         make(map[string]uint64),
	}
}

func (s *Service) generation(leadID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[leadID]
}

type loadResult struct {
	items    []Interaction
	warnings []Warning
}

// Fetch queries all sources in parallel. A failing source becomes a warning;
// only cancellation of ctx fails the whole fetch.
func (s *Service) Fetch(ctx context.Context, ref store.LeadRef) (Sources, []Warning, error) {
	var (
		src      Sources
		mu       sync.Mutex
		warnings []Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	run := func(source Source, fetch func(context.Context) error) {
		g.Go(func() error {
			if err := fetch(gctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("timeline source failed lead=%s source=%s err=%v", ref.ID, source, err)
				mu.Lock()
				warnings = append(warnings, Warning{Source: source, Error: err.Error()})
				mu.Unlock()
			}
			return nil
		})
	}

	run(SourceManual, func(ctx context.Context) (err error) {
		src.Manual, err = s.fetcher.ManualInteractions(ctx, ref)
		return err
	})
	run(SourceEmail, func(ctx context.Context) (err error) {
		src.Emails, err = s.fetcher.LeadEmails(ctx, ref)
		return err
	})
	run(SourceWhatsApp, func(ctx context.Context) (err error) {
		src.WhatsApp, err = s.fetcher.WhatsAppMessages(ctx, ref)
		return err
	})
	run(SourceCallLog, func(ctx context.Context) (err error) {
		src.Calls, err = s.fetcher.CallLogs(ctx, ref)
		return err
	})
	run(SourceLegacy, func(ctx context.Context) (err error) {
		src.Legacy, err = s.fetcher.LegacyInteractions(ctx, ref)
		return err
	})

	if err := g.Wait(); err != nil {
		return Sources{}, nil, err
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Source < warnings[j].Source })
	return src, warnings, nil
}

// All returns the full reconciled timeline, served from cache unless
// opts.Refresh is set. Concurrent loads of one lead share a single fetch.
func (s *Service) All(ctx context.Context, ref store.LeadRef, opts Options) ([]Interaction, []Warning, error) {
	if !opts.Refresh && s.cache != nil {
		items, ok, err := s.cache.Get(ctx, ref.ID)
		if err != nil {
			log.Printf("timeline cache read failed lead=%s err=%v", ref.ID, err)
		} else if ok {
			return filterKinds(items, opts.Kinds), nil, nil
		}
	}

	ch := s.group.DoChan(ref.ID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(loadCtx, ref)
	})
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		loaded := res.Val.(loadResult)
		return filterKinds(loaded.items, opts.Kinds), loaded.warnings, nil
	}
}

// Timeline returns one page of the reconciled timeline.
func (s *Service) Timeline(ctx context.Context, ref store.LeadRef, window Window, opts Options) (Page, error) {
	items, warnings, err := s.All(ctx, ref, opts)
	if err != nil {
		return Page{}, err
	}
	page := Paginate(items, window)
	page.Warnings = warnings
	return page, nil
}

// Invalidate drops the cached timeline of a lead. Loads that started before
// the call neither write the cache nor serve later readers.
func (s *Service) Invalidate(ctx context.Context, leadID string) error {
	s.mu.Lock()
	s.generations[leadID]++
	s.mu.Unlock()
	s.group.Forget(leadID)
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, leadID)
}

func (s *Service) load(ctx context.Context, ref store.LeadRef) (loadResult, error) {
	gen := s.generation(ref.ID)
	src, warnings, err := s.Fetch(ctx, ref)
	if err != nil {
		return loadResult{}, err
	}
	items := Reconcile(ref.ID, src, s.minMeaningfulLength)
	// A partial timeline is served but not cached, so the next read retries
	// the failed source.
	if s.cache != nil && len(warnings) == 0 {
		s.mu.Lock()
		// Hold the lock across Set so an Invalidate cannot land between the
		// generation check and the write.
		if s.generations[ref.ID] == gen {
			if err := s.cache.Set(ctx, ref.ID, items); err != nil {
				log.Printf("timeline cache write failed lead=%s err=%v", ref.ID, err)
			}
		}
		s.mu.Unlock()
	}
	return loadResult{items: items, warnings: warnings}, nil
}
