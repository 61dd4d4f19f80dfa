package cache

import (
	"context"

	"leaddesk/api/internal/timeline"
)

// Tiered reads the local tier first and falls back to the shared tier,
// back-filling local memory on a shared hit. Writes and invalidations go to
// both tiers.
type Tiered struct {
	local  timeline.Cache
	shared timeline.Cache
}

// NewTiered combines two caches. shared may be nil, in which case the
// local tier is used alone.
func NewTiered(local, shared timeline.Cache) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, leadID string) ([]timeline.Interaction, bool, error) {
	if items, ok, err := t.local.Get(ctx, leadID); err == nil && ok {
		return items, true, nil
	}
	if t.shared == nil {
		return nil, false, nil
	}
	items, ok, err := t.shared.Get(ctx, leadID)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.local.Set(ctx, leadID, items)
	return items, true, nil
}

func (t *Tiered) Set(ctx context.Context, leadID string, items []timeline.Interaction) error {
	if err := t.local.Set(ctx, leadID, items); err != nil {
		return err
	}
	if t.shared == nil {
		return nil
	}
	return t.shared.Set(ctx, leadID, items)
}

func (t *Tiered) Invalidate(ctx context.Context, leadID string) error {
	if err := t.local.Invalidate(ctx, leadID); err != nil {
		return err
	}
	if t.shared == nil {
		return nil
	}
	return t.shared.Invalidate(ctx, leadID)
}
