package timeline

import (
	"strings"
	"time"
	"unicode/utf8"

	"leaddesk/api/internal/richtext"
)

// Deduplicate collapses copies of the same interaction in three passes:
// identical IDs keep the first occurrence, then records sharing a normalized
// message id and finally records sharing an exact timestamp and kind keep
// the richer copy.
func Deduplicate(items []Interaction) []Interaction {
	out := dedupByID(items)
	out = dedupBy(out, func(item Interaction) string {
		return NormalizeMessageID(item.MessageID)
	})
	out = dedupBy(out, func(item Interaction) string {
		if item.OccurredAt.IsZero() {
			return ""
		}
		return item.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + string(item.Kind)
	})
	return out
}

// NormalizeMessageID lowercases a message id and strips angle brackets so
// "<ABC@mail>" and "abc@mail" compare equal.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}

func dedupByID(items []Interaction) []Interaction {
	seen := make(map[string]struct{}, len(items))
	out := make([]Interaction, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// dedupBy keeps the richer item per non-empty key. Items with an empty key
// never collide.
func dedupBy(items []Interaction, key func(Interaction) string) []Interaction {
	index := make(map[string]int, len(items))
	out := make([]Interaction, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			out = append(out, item)
			continue
		}
		pos, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, item)
			continue
		}
		if richer(item, out[pos]) {
			out[pos] = item
		}
	}
	return out
}

// Richness scores how much a copy shows the reader.
func Richness(item Interaction) int {
	score := utf8.RuneCountInString(richtext.PlainText(item.Content))
	if item.Subject != "" {
		score += 20
	}
	if item.HTML {
		score += 30
	}
	if item.Call != nil && item.Call.RecordingKey != "" {
		score += 40
	}
	if item.Media != nil {
		score += 25
	}
	return score
}

func richer(candidate, current Interaction) bool {
	a, b := Richness(candidate), Richness(current)
	if a != b {
		return a > b
	}
	return sourcePriority(candidate.Source) > sourcePriority(current.Source)
}

func sourcePriority(source Source) int {
	switch source {
	case SourceEmail, SourceWhatsApp, SourceCallLog:
		return 3
	case SourceManual:
		return 2
	case SourceLegacy:
		return 1
	}
	return 0
}
