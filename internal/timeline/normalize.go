package timeline

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leaddesk/api/internal/richtext"
	"leaddesk/api/internal/store"
)

const previewLength = 280

// Sources holds the raw rows of one lead as fetched from each table.
type Sources struct {
	Manual   []store.ManualInteraction
	Emails   []store.LeadEmail
	WhatsApp []store.WhatsAppMessage
	Calls    []store.CallLog
	Legacy   []store.LegacyInteraction
}

// Normalize maps every source row of a lead to an Interaction. Order follows
// the sources; sorting happens after deduplication.
func Normalize(leadID string, src Sources) []Interaction {
	out := make([]Interaction, 0, len(src.Manual)+len(src.Emails)+len(src.WhatsApp)+len(src.Calls)+len(src.Legacy))
	out = append(out, NormalizeEmails(leadID, src.Emails)...)
	out = append(out, NormalizeWhatsApp(leadID, src.WhatsApp)...)
	out = append(out, NormalizeCalls(leadID, src.Calls)...)
	out = append(out, NormalizeManual(leadID, src.Manual)...)
	out = append(out, NormalizeLegacy(leadID, src.Legacy)...)
	return out
}

func NormalizeEmails(leadID string, rows []store.LeadEmail) []Interaction {
	items := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		item := Interaction{
			ID:         fmt.Sprintf("%s:%d", SourceEmail, row.ID),
			LeadID:     leadID,
			Kind:       KindEmail,
			Source:     SourceEmail,
			Direction:  NormalizeDirection(row.Direction, DirectionInbound),
			OccurredAt: row.SentAt.UTC(),
			Subject:    strings.TrimSpace(row.Subject),
			From:       row.FromAddress,
			To:         row.ToAddress,
			MessageID:  row.MessageID,
		}
		if strings.TrimSpace(row.BodyHTML) != "" {
			item.Content = strings.TrimSpace(row.BodyHTML)
			item.HTML = true
		} else {
			item.Content = richtext.ToHTML(row.BodyText)
		}
		item.Preview = richtext.Truncate(richtext.PlainText(item.Content), previewLength)
		items = append(items, item)
	}
	return items
}

func NormalizeWhatsApp(leadID string, rows []store.WhatsAppMessage) []Interaction {
	items := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		direction := NormalizeDirection(row.Direction, DirectionInbound)
		item := Interaction{
			ID:         fmt.Sprintf("%s:%d", SourceWhatsApp, row.ID),
			LeadID:     leadID,
			Kind:       KindWhatsApp,
			Source:     SourceWhatsApp,
			Direction:  direction,
			OccurredAt: row.SentAt.UTC(),
			Content:    richtext.ToHTML(row.Body),
			Preview:    richtext.Truncate(richtext.PlainText(row.Body), previewLength),
			MessageID:  row.WAMessageID,
		}
		contact := row.ContactName
		if contact == "" {
			contact = row.Phone
		}
		if direction == DirectionOutbound {
			item.To = contact
		} else {
			item.From = contact
		}
		if row.MediaURL != "" {
			item.Media = &Media{URL: row.MediaURL, MimeType: row.MediaType}
			if item.Preview == "" {
				item.Preview = "[" + mediaLabel(row.MediaType) + "]"
			}
		}
		items = append(items, item)
	}
	return items
}

func NormalizeCalls(leadID string, rows []store.CallLog) []Interaction {
	items := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		status := strings.ToLower(strings.TrimSpace(row.Status))
		summary := callSummary(status, row.DurationSeconds)
		item := Interaction{
			ID:         fmt.Sprintf("%s:%d", SourceCallLog, row.ID),
			LeadID:     leadID,
			Kind:       KindCall,
			Source:     SourceCallLog,
			Direction:  NormalizeDirection(row.Direction, DirectionOutbound),
			OccurredAt: row.StartedAt.UTC(),
			Subject:    summary,
			From:       row.FromNumber,
			To:         row.ToNumber,
			Author:     row.AgentName,
			Call: &CallDetails{
				Status:          status,
				DurationSeconds: row.DurationSeconds,
				RecordingKey:    row.RecordingKey,
				PBXCallID:       row.PBXCallID,
				CallLogID:       row.ID,
			},
		}
		if strings.TrimSpace(row.Notes) != "" {
			item.Content = richtext.ToHTML(row.Notes)
			item.Preview = richtext.Truncate(richtext.PlainText(row.Notes), previewLength)
		} else {
			item.Content = richtext.ToHTML(summary)
			item.Preview = summary
		}
		items = append(items, item)
	}
	return items
}

// NormalizeManual maps agent notes. Elements decoded from the JSONB column
// are read leniently since older clients used different key names.
func NormalizeManual(leadID string, rows []store.ManualInteraction) []Interaction {
	items := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		if len(row.Raw) > 0 {
			decoded, ok := decodeManual(row.Raw)
			if !ok {
				continue
			}
			row = decoded
		}
		if strings.TrimSpace(row.Content) == "" && strings.TrimSpace(row.Subject) == "" {
			continue
		}
		id := row.ID
		if id == "" {
			id = contentHash(row.Type, row.OccurredAt.UTC().Format(time.RFC3339Nano), row.Content)
		}
		kind := InferKind(row.Type, "")
		format := richtext.Detect(row.Content)
		item := Interaction{
			ID:         string(SourceManual) + ":" + id,
			LeadID:     leadID,
			Kind:       kind,
			Source:     SourceManual,
			Direction:  NormalizeDirection(row.Direction, defaultDirection(kind)),
			OccurredAt: row.OccurredAt.UTC(),
			Subject:    strings.TrimSpace(row.Subject),
			Content:    richtext.ToHTML(row.Content),
			Author:     row.Author,
			HTML:       format != richtext.FormatPlain,
		}
		item.Preview = richtext.Truncate(richtext.PlainText(item.Content), previewLength)
		items = append(items, item)
	}
	return items
}

func NormalizeLegacy(leadID string, rows []store.LegacyInteraction) []Interaction {
	items := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Description) == "" {
			continue
		}
		kind := InferKind(row.Channel, row.Description)
		items = append(items, Interaction{
			ID:         fmt.Sprintf("%s:%d", SourceLegacy, row.ID),
			LeadID:     leadID,
			Kind:       kind,
			Source:     SourceLegacy,
			Direction:  DirectionInternal,
			OccurredAt: row.CreatedAt.UTC(),
			Content:    richtext.ToHTML(row.Description),
			Preview:    richtext.Truncate(richtext.PlainText(row.Description), previewLength),
			Author:     row.CreatedBy,
		})
	}
	return items
}

// InferKind reads a channel label first and falls back to keywords in the
// free text. Anything unrecognised is a note.
func InferKind(channel, text string) Kind {
	if kind, ok := kindFromLabel(channel); ok {
		return kind
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "whatsapp"):
		return KindWhatsApp
	case strings.Contains(lower, "e-mail"), strings.Contains(lower, "email"):
		return KindEmail
	case strings.Contains(lower, "call"), strings.Contains(lower, "phone"), strings.Contains(lower, "ligação"), strings.Contains(lower, "ligacao"):
		return KindCall
	}
	return KindNote
}

func kindFromLabel(label string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "email", "e-mail", "mail":
		return KindEmail, true
	case "whatsapp", "wa", "zap":
		return KindWhatsApp, true
	case "call", "phone", "telefone", "ligacao", "ligação":
		return KindCall, true
	case "note", "nota", "meeting", "visit":
		return KindNote, true
	}
	return "", false
}

// NormalizeDirection folds the direction labels used across sources.
func NormalizeDirection(label string, fallback Direction) Direction {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "in", "inbound", "incoming", "received", "recebido", "entrada":
		return DirectionInbound
	case "out", "outbound", "outgoing", "sent", "enviado", "saida", "saída":
		return DirectionOutbound
	case "internal", "note":
		return DirectionInternal
	}
	return fallback
}

func defaultDirection(kind Kind) Direction {
	if kind == KindNote {
		return DirectionInternal
	}
	return DirectionOutbound
}

func callSummary(status string, seconds int) string {
	label := "Call"
	switch status {
	case "answered", "completed":
		label = "Answered call"
	case "missed", "no-answer", "no_answer", "busy", "failed":
		label = "Missed call"
	}
	if seconds > 0 {
		return fmt.Sprintf("%s (%s)", label, formatDuration(seconds))
	}
	return label
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), seconds%60)
}

func mediaLabel(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	}
	return "attachment"
}

func contentHash(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])[:16]
}

func decodeManual(raw json.RawMessage) (store.ManualInteraction, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return store.ManualInteraction{}, false
	}
	item := store.ManualInteraction{
		ID:        firstString(fields, "id", "uuid"),
		Type:      firstString(fields, "type", "kind", "channel"),
		Direction: firstString(fields, "direction"),
		Subject:   firstString(fields, "subject", "title"),
		Content:   firstString(fields, "content", "notes", "description", "text", "body"),
		Author:    firstString(fields, "author", "createdBy", "created_by", "user"),
	}
	for _, key := range []string{"occurredAt", "occurred_at", "date", "createdAt", "created_at", "timestamp"} {
		if value, ok := fields[key]; ok {
			if ts, ok := parseTimestamp(value); ok {
				item.OccurredAt = ts
				break
			}
		}
	}
	return item, true
}

// firstString returns the first present key as text. Nested objects (editor
// documents) are returned as their JSON encoding.
func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		switch trimmed[0] {
		case '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
				return s
			}
		case '{':
			return string(trimmed)
		default:
			return string(trimmed)
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, false
	}
	value, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	// Values past 1e11 are milliseconds.
	if value > 1e11 {
		return time.UnixMilli(value).UTC(), true
	}
	return time.Unix(value, 0).UTC(), true
}
