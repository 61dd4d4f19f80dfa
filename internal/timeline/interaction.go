// Package timeline reconciles the communications of a lead (emails, WhatsApp
// messages, call logs, manual notes and legacy free-text rows) into one
// de-duplicated list sorted newest first.
package timeline

import "time"

type Kind string

const (
	KindEmail    Kind = "email"
	KindWhatsApp Kind = "whatsapp"
	KindCall     Kind = "call"
	KindNote     Kind = "note"
)

// Kinds lists every interaction kind in display order.
var Kinds = []Kind{KindEmail, KindWhatsApp, KindCall, KindNote}

func ParseKind(value string) (Kind, bool) {
	for _, kind := range Kinds {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}

type Source string

const (
	SourceManual   Source = "manual"
	SourceEmail    Source = "email"
	SourceWhatsApp Source = "whatsapp"
	SourceCallLog  Source = "call_log"
	SourceLegacy   Source = "legacy"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
)

type Interaction struct {
	ID         string       `json:"id"`
	LeadID     string       `json:"leadId"`
	Kind       Kind         `json:"kind"`
	Source     Source       `json:"source"`
	Direction  Direction    `json:"direction"`
	OccurredAt time.Time    `json:"occurredAt"`
	Subject    string       `json:"subject,omitempty"`
	Content    string       `json:"content"`
	Preview    string       `json:"preview"`
	From       string       `json:"from,omitempty"`
	To         string       `json:"to,omitempty"`
	MessageID  string       `json:"messageId,omitempty"`
	Author     string       `json:"author,omitempty"`
	HTML       bool         `json:"html"`
	Call       *CallDetails `json:"call,omitempty"`
	Media      *Media       `json:"media,omitempty"`
}

type CallDetails struct {
	Status          string `json:"status"`
	DurationSeconds int    `json:"durationSeconds"`
	RecordingKey    string `json:"recordingKey,omitempty"`
	PBXCallID       string `json:"pbxCallId,omitempty"`
	CallLogID       int64  `json:"callLogId,omitempty"`
}

type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

// Warning reports a source that could not be read. The remaining sources are
// still reconciled.
type Warning struct {
	Source Source `json:"source"`
	Error  string `json:"error"`
}
