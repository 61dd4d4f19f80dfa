package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LeadRef addresses a lead in either schema. Legacy leads carry their integer
// key in LegacyID and an ID of the form "legacy-<n>".
type LeadRef struct {
	ID       string
	Legacy   bool
	LegacyID int64
}

type Lead struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Company   string
	Stage     string
	Owner     string
	Legacy    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ManualInteraction is a note typed in by an agent. Rows read from
// legacy_lead_interactions arrive decoded; elements of the leads.interactions
// JSONB array arrive with only Raw set because their shape varies by the UI
// version that wrote them.
type ManualInteraction struct {
	ID         string
	Type       string
	Direction  string
	Subject    string
	Content    string
	Author     string
	OccurredAt time.Time
	Raw        json.RawMessage
}

type LeadEmail struct {
	ID          int64
	LeadID      string
	MessageID   string
	Direction   string
	Subject     string
	BodyText    string
	BodyHTML    string
	FromAddress string
	ToAddress   string
	SentAt      time.Time
}

type WhatsAppMessage struct {
	ID          int64
	LeadID      string
	WAMessageID string
	Direction   string
	Phone       string
	ContactName string
	Body        string
	MediaURL    string
	MediaType   string
	Status      string
	SentAt      time.Time
}

type CallLog struct {
	ID              int64
	LeadID          string
	PBXCallID       string
	Direction       string
	FromNumber      string
	ToNumber        string
	Extension       string
	AgentName       string
	Status          string
	DurationSeconds int
	RecordingKey    string
	Notes           string
	StartedAt       time.Time
}

type LegacyInteraction struct {
	ID          int64
	LeadID      string
	Channel     string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
}

type StageChange struct {
	ID        int64
	LeadID    string
	FromStage string
	ToStage   string
	Reason    string
	ChangedBy string
	ChangedAt time.Time
}

type CallFilter struct {
	LeadID    string
	Direction string
	Status    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type CallStats struct {
	Total            int
	Answered         int
	Missed           int
	TotalTalkSeconds int
}

type SyncState struct {
	Name        string
	LastSyncAt  *time.Time
	LastRunAt   *time.Time
	LastStatus  string
	LastError   string
	LastFetched int
	LastStored  int
}

// PhoneMatch is a lead whose phone number shares the dialled suffix.
type PhoneMatch struct {
	LeadID string
	Name   string
}
