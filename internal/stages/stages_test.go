package stages

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"leaddesk/api/internal/store"
)

func TestLoadDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.First().Key != "new" {
		t.Errorf("First() = %q, want new", p.First().Key)
	}
	lost, ok := p.Lookup("lost")
	if !ok || !lost.Terminal || !lost.RequiresReason {
		t.Fatalf("unexpected lost stage: %+v", lost)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	if err := os.WriteFile(path, []byte("stages:\n  - key: open\n  - key: closed\n    terminal: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Stages) != 2 || p.Stages[0].Label != "open" || p.Stages[1].Order != 2 {
		t.Fatalf("unexpected stages: %+v", p.Stages)
	}
}

func TestParseRejectsBadPipelines(t *testing.T) {
	cases := []string{
		"stages: []",
		"stages:\n  - label: no key\n",
		"stages:\n  - key: a\n  - key: a\n",
		"stages: [",
	}
	for _, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%q) expected error", raw)
		}
	}
}

func TestWidget(t *testing.T) {
	p, _ := Load("")
	history := make([]store.StageChange, 25)
	for i := range history {
		history[i] = store.StageChange{FromStage: "new", ToStage: "contacted", ChangedBy: "Ana", ChangedAt: time.Now()}
	}
	w := p.Widget(store.Lead{ID: "lead-1", Stage: "qualified"}, history)
	if w.Current.Key != "qualified" || w.Position != 3 {
		t.Fatalf("unexpected current: %+v position=%d", w.Current, w.Position)
	}
	// 5 open stages; qualified is third.
	if w.Progress != 50 {
		t.Errorf("Progress = %d, want 50", w.Progress)
	}
	if len(w.History) != 20 {
		t.Errorf("len(History) = %d, want 20", len(w.History))
	}

	won := p.Widget(store.Lead{Stage: "won"}, nil)
	if won.Progress != 100 {
		t.Errorf("terminal Progress = %d, want 100", won.Progress)
	}

	unknown := p.Widget(store.Lead{Stage: "archived", Legacy: true}, nil)
	if unknown.Current.Key != "new" || !unknown.ReadOnly {
		t.Errorf("unexpected widget for unknown stage: %+v", unknown)
	}
}

func TestCheckTransition(t *testing.T) {
	p, _ := Load("")
	lead := store.Lead{ID: "lead-1", Stage: "proposal"}

	if _, err := p.CheckTransition(lead, "unicorn", ""); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if _, err := p.CheckTransition(lead, "lost", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("expected ErrReasonRequired, got %v", err)
	}
	if _, err := p.CheckTransition(store.Lead{Legacy: true, Stage: "new"}, "won", ""); !errors.Is(err, ErrLegacyReadOnly) {
		t.Errorf("expected ErrLegacyReadOnly, got %v", err)
	}

	same, err := p.CheckTransition(lead, "proposal", "")
	if err != nil || !same.Noop {
		t.Errorf("expected noop transition, got %+v err=%v", same, err)
	}

	tr, err := p.CheckTransition(lead, "lost", "Chose another firm")
	if err != nil {
		t.Fatalf("CheckTransition() error = %v", err)
	}
	if tr.From != "proposal" || tr.To.Key != "lost" || tr.Reason != "Chose another firm" || tr.Noop {
		t.Errorf("unexpected transition: %+v", tr)
	}
}
