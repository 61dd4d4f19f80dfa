// Package stages loads the lead pipeline and validates stage transitions for
// the lead-stage widget.
package stages

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"leaddesk/api/internal/store"
)

//go:embed default.yaml
var defaultPipeline []byte

var (
	ErrUnknownStage   = errors.New("unknown stage")
	ErrReasonRequired = errors.New("stage requires a reason")
	ErrLegacyReadOnly = errors.New("legacy leads are read-only")
)

const historyLimit = 20

type Stage struct {
	Key            string `yaml:"key" json:"key"`
	Label          string `yaml:"label" json:"label"`
	Color          string `yaml:"color" json:"color"`
	Terminal       bool   `yaml:"terminal" json:"terminal"`
	RequiresReason bool   `yaml:"requiresReason" json:"requiresReason"`
	Order          int    `yaml:"-" json:"order"`
}

type Pipeline struct {
	Stages []Stage `yaml:"stages"`
	byKey  map[string]int
}

// Load reads the pipeline from path, or the embedded default when path is
// empty.
func Load(path string) (*Pipeline, error) {
	raw := defaultPipeline
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read stages file: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse stages: %w", err)
	}
	if len(p.Stages) == 0 {
		return nil, errors.New("parse stages: pipeline has no stages")
	}
	p.byKey = make(map[string]int, len(p.Stages))
	for i := range p.Stages {
		stage := &p.Stages[i]
		stage.Key = strings.TrimSpace(stage.Key)
		if stage.Key == "" {
			return nil, fmt.Errorf("parse stages: stage %d has no key", i+1)
		}
		if _, dup := p.byKey[stage.Key]; dup {
			return nil, fmt.Errorf("parse stages: duplicate key %q", stage.Key)
		}
		if stage.Label == "" {
			stage.Label = stage.Key
		}
		stage.Order = i + 1
		p.byKey[stage.Key] = i
	}
	return &p, nil
}

func (p *Pipeline) Lookup(key string) (Stage, bool) {
	i, ok := p.byKey[key]
	if !ok {
		return Stage{}, false
	}
	return p.Stages[i], true
}

// First is the stage assigned to leads without one.
func (p *Pipeline) First() Stage {
	return p.Stages[0]
}

type HistoryEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

type Widget struct {
	LeadID   string         `json:"leadId"`
	Current  Stage          `json:"current"`
	Position int            `json:"position"`
	Progress int            `json:"progress"`
	ReadOnly bool           `json:"readOnly"`
	Stages   []Stage        `json:"stages"`
	History  []HistoryEntry `json:"history"`
}

// Widget builds the stage widget of a lead. Unknown stored stages are shown
// as the first stage. Progress counts non-terminal stages and reaches 100 on
// any terminal stage.
func (p *Pipeline) Widget(lead store.Lead, history []store.StageChange) Widget {
	current, ok := p.Lookup(lead.Stage)
	if !ok {
		current = p.First()
	}
	w := Widget{
		LeadID:   lead.ID,
		Current:  current,
		Position: current.Order,
		ReadOnly: lead.Legacy,
		Stages:   p.Stages,
		History:  make([]HistoryEntry, 0, len(history)),
	}
	w.Progress = p.progress(current)
	for i, change := range history {
		if i == historyLimit {
			break
		}
		w.History = append(w.History, HistoryEntry{
			From:      change.FromStage,
			To:        change.ToStage,
			Reason:    change.Reason,
			ChangedBy: change.ChangedBy,
			ChangedAt: change.ChangedAt,
		})
	}
	return w
}

func (p *Pipeline) progress(current Stage) int {
	if current.Terminal {
		return 100
	}
	open := 0
	for _, stage := range p.Stages {
		if !stage.Terminal {
			open++
		}
	}
	if open == 0 {
		return 0
	}
	return current.Order * 100 / (open + 1)
}

// Transition is a validated stage change. Noop means the lead already sits
// on the requested stage.
type Transition struct {
	From   string
	To     Stage
	Reason string
	Noop   bool
}

// CheckTransition validates moving lead to the stage keyed to.
func (p *Pipeline) CheckTransition(lead store.Lead, to, reason string) (Transition, error) {
	if lead.Legacy {
		return Transition{}, ErrLegacyReadOnly
	}
	target, ok := p.Lookup(strings.TrimSpace(to))
	if !ok {
		return Transition{}, ErrUnknownStage
	}
	reason = strings.TrimSpace(reason)
	if lead.Stage == target.Key {
		return Transition{From: lead.Stage, To: target, Noop: true}, nil
	}
	if target.RequiresReason && reason == "" {
		return Transition{}, ErrReasonRequired
	}
	return Transition{From: lead.Stage, To: target, Reason: reason}, nil
}
