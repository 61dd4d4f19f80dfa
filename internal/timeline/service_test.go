package timeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leaddesk/api/internal/store"
)

type fakeFetcher struct {
	calls      atomic.Int32
	manualFn   func(ctx context.Context, ref store.LeadRef) ([]store.ManualInteraction, error)
	emailsFn   func(ctx context.Context, ref store.LeadRef) ([]store.LeadEmail, error)
	whatsappFn func(ctx context.Context, ref store.LeadRef) ([]store.WhatsAppMessage, error)
	callsFn    func(ctx context.Context, ref store.LeadRef) ([]store.CallLog, error)
	legacyFn   func(ctx context.Context, ref store.LeadRef) ([]store.LegacyInteraction, error)
}

func (f *fakeFetcher) ManualInteractions(ctx context.Context, ref store.LeadRef) ([]store.ManualInteraction, error) {
	f.calls.Add(1)
	if f.manualFn != nil {
		return f.manualFn(ctx, ref)
	}
	return nil, nil
}

func (f *fakeFetcher) LeadEmails(ctx context.Context, ref store.LeadRef) ([]store.LeadEmail, error) {
	if f.emailsFn != nil {
		return f.emailsFn(ctx, ref)
	}
	return nil, nil
}

func (f *fakeFetcher) WhatsAppMessages(ctx context.Context, ref store.LeadRef) ([]store.WhatsAppMessage, error) {
	if f.whatsappFn != nil {
		return f.whatsappFn(ctx, ref)
	}
	return nil, nil
}

func (f *fakeFetcher) CallLogs(ctx context.Context, ref store.LeadRef) ([]store.CallLog, error) {
	if f.callsFn != nil {
		return f.callsFn(ctx, ref)
	}
	return nil, nil
}

func (f *fakeFetcher) LegacyInteractions(ctx context.Context, ref store.LeadRef) ([]store.LegacyInteraction, error) {
	if f.legacyFn != nil {
		return f.legacyFn(ctx, ref)
	}
	return nil, nil
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]Interaction
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string][]Interaction{}}
}

func (c *mapCache) Get(_ context.Context, leadID string) ([]Interaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.items[leadID]
	return items, ok, nil
}

func (c *mapCache) Set(_ context.Context, leadID string, items []Interaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[leadID] = items
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, leadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, leadID)
	return nil
}

var testRef = store.LeadRef{ID: "7d8c3c1e-4a53-4d5e-9f55-4f0f4b8f2b10"}

func TestTimelineFailingSourceBecomesWarning(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		emailsFn: func(context.Context, store.LeadRef) ([]store.LeadEmail, error) {
			return nil, errors.New("relation lead_emails does not exist")
		},
		legacyFn: func(context.Context, store.LeadRef) ([]store.LegacyInteraction, error) {
			return []store.LegacyInteraction{{ID: 1, Description: "Visited the office", CreatedAt: at}}, nil
		},
	}
	cache := newMapCache()
	svc := NewService(fetcher, cache, 10)

	page, err := svc.Timeline(context.Background(), testRef, Window{}, Options{})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "legacy:1" {
		t.Fatalf("unexpected items: %v", idsOf(page.Items))
	}
	if len(page.Warnings) != 1 || page.Warnings[0].Source != SourceEmail {
		t.Fatalf("unexpected warnings: %+v", page.Warnings)
	}
	if _, ok, _ := cache.Get(context.Background(), testRef.ID); ok {
		t.Fatal("partial timeline must not be cached")
	}
}

func TestTimelineUsesCacheUntilRefresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := newMapCache()
	svc := NewService(fetcher, cache, 10)
	ctx := context.Background()

	if _, err := svc.Timeline(ctx, testRef, Window{}, Options{}); err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if _, err := svc.Timeline(ctx, testRef, Window{}, Options{}); err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch with warm cache, got %d", got)
	}

	if _, err := svc.Timeline(ctx, testRef, Window{}, Options{Refresh: true}); err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected refresh to refetch, got %d fetches", got)
	}

	if err := svc.Invalidate(ctx, testRef.ID); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := svc.Timeline(ctx, testRef, Window{}, Options{}); err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if got := fetcher.calls.Load(); got != 3 {
		t.Fatalf("expected invalidate to force a fetch, got %d fetches", got)
	}
}

func TestTimelineCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		manualFn: func(context.Context, store.LeadRef) ([]store.ManualInteraction, error) {
			<-release
			return nil, nil
		},
	}
	svc := NewService(fetcher, nil, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Timeline(context.Background(), testRef, Window{}, Options{}); err != nil {
				t.Errorf("Timeline() error = %v", err)
			}
		}()
	}
	// Give the callers time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected a single shared fetch, got %d", got)
	}
}

func TestTimelineKindsFilter(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		callsFn: func(context.Context, store.LeadRef) ([]store.CallLog, error) {
			return []store.CallLog{{ID: 1, Status: "answered", StartedAt: at}}, nil
		},
		legacyFn: func(context.Context, store.LeadRef) ([]store.LegacyInteraction, error) {
			return []store.LegacyInteraction{{ID: 2, Description: "Visited the office", CreatedAt: at.Add(time.Hour)}}, nil
		},
	}
	svc := NewService(fetcher, newMapCache(), 10)

	page, err := svc.Timeline(context.Background(), testRef, Window{}, Options{Kinds: []Kind{KindCall}})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if page.Total != 1 || page.Items[0].Kind != KindCall {
		t.Fatalf("unexpected filtered page: %+v", page)
	}
}

func TestTimelineCanceledContext(t *testing.T) {
	svc := NewService(&fakeFetcher{
		manualFn: func(ctx context.Context, _ store.LeadRef) ([]store.ManualInteraction, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		},
	}, nil, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Timeline(ctx, testRef, Window{}, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTimelineInvalidateDuringLoadKeepsNewRows(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var (
		mu    sync.Mutex
		rows  []store.LegacyInteraction
		loads atomic.Int32
	)
	read := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		legacyFn: func(context.Context, store.LeadRef) ([]store.LegacyInteraction, error) {
			mu.Lock()
			snapshot := append([]store.LegacyInteraction(nil), rows...)
			mu.Unlock()
			if loads.Add(1) == 1 {
				close(read)
				<-release
			}
			return snapshot, nil
		},
	}
	cache := newMapCache()
	svc := NewService(fetcher, cache, 10)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Timeline(ctx, testRef, Window{}, Options{})
		done <- err
	}()
	<-read

	mu.Lock()
	rows = append(rows, store.LegacyInteraction{ID: 1, Description: "Called back about pricing", CreatedAt: at})
	mu.Unlock()
	if err := svc.Invalidate(ctx, testRef.ID); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	// A read after the write must not join the load that started before it.
	page, err := svc.Timeline(ctx, testRef, Window{}, Options{})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("read after invalidate: total=%d want 1", page.Total)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight Timeline() error = %v", err)
	}

	page, err = svc.Timeline(ctx, testRef, Window{}, Options{})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("stale timeline cached: total=%d want 1", page.Total)
	}
	if items, ok, _ := cache.Get(ctx, testRef.ID); ok && len(items) != 1 {
		t.Fatalf("cache holds %d items, want 1", len(items))
	}
}
