package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LEADDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LEADDESK_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestPostgresStoreLeadsAndInteractions(t *testing.T) {
	s, ctx := openTestStore(t)

	var leadID string
	if err := s.DB().QueryRowContext(ctx, `INSERT INTO leads (name, phone) VALUES ('Acme', '+55 (11) 98765-4321') RETURNING id`).Scan(&leadID); err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	var legacyID int64
	if err := s.DB().QueryRowContext(ctx, `INSERT INTO legacy_leads (name, phone, status) VALUES ('Old Acme', '11 8765 4321', 'contacted') RETURNING id`).Scan(&legacyID); err != nil {
		t.Fatalf("insert legacy lead: %v", err)
	}

	lead, err := s.GetLead(ctx, LeadRef{ID: leadID})
	if err != nil || lead.Stage != "new" || lead.Legacy {
		t.Fatalf("GetLead() = %+v, %v", lead, err)
	}
	legacy, err := s.GetLead(ctx, LeadRef{ID: "legacy-1", Legacy: true, LegacyID: legacyID})
	if err != nil || !legacy.Legacy || legacy.Stage != "contacted" {
		t.Fatalf("GetLead(legacy) = %+v, %v", legacy, err)
	}
	if _, err := s.GetLead(ctx, LeadRef{ID: "00000000-0000-0000-0000-000000000000"}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	id, err := s.AppendManualInteraction(ctx, LeadRef{ID: leadID}, ManualInteraction{Type: "note", Direction: "internal", Content: "Asked for a quote", Author: "Ana", OccurredAt: at})
	if err != nil || id == "" {
		t.Fatalf("AppendManualInteraction() = %q, %v", id, err)
	}
	manual, err := s.ManualInteractions(ctx, LeadRef{ID: leadID})
	if err != nil || len(manual) != 1 || !strings.Contains(string(manual[0].Raw), "Asked for a quote") {
		t.Fatalf("ManualInteractions() = %+v, %v", manual, err)
	}

	legacyRef := LeadRef{ID: lead.ID, Legacy: true, LegacyID: legacyID}
	lliID, err := s.AppendManualInteraction(ctx, legacyRef, ManualInteraction{Type: "call", Direction: "outbound", Content: "Left a voicemail", Author: "Ana", OccurredAt: at})
	if err != nil || !strings.HasPrefix(lliID, "lli-") {
		t.Fatalf("AppendManualInteraction(legacy) = %q, %v", lliID, err)
	}

	matches, err := s.MatchLeadsByPhone(ctx, "87654321")
	if err != nil || len(matches) != 2 || matches[0].LeadID != leadID {
		t.Fatalf("MatchLeadsByPhone() = %+v, %v", matches, err)
	}

	if err := s.ChangeStage(ctx, StageChange{LeadID: leadID, FromStage: "new", ToStage: "qualified", ChangedBy: "Ana"}); err != nil {
		t.Fatalf("ChangeStage() error = %v", err)
	}
	history, err := s.ListStageHistory(ctx, LeadRef{ID: leadID}, 10)
	if err != nil || len(history) != 1 || history[0].ToStage != "qualified" {
		t.Fatalf("ListStageHistory() = %+v, %v", history, err)
	}
}

func TestPostgresStoreCallsAndSyncState(t *testing.T) {
	s, ctx := openTestStore(t)
	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

	call := CallLog{LeadID: "lead-a", PBXCallID: "cdr-1", Direction: "inbound", Status: "answered", DurationSeconds: 90, RecordingKey: "calls/2024/04/cdr-1", StartedAt: at}
	stored, inserted, err := s.UpsertCallLog(ctx, call)
	if err != nil || !inserted || stored.ID == 0 {
		t.Fatalf("UpsertCallLog() = %+v, %v, %v", stored, inserted, err)
	}
	call.LeadID = ""
	call.RecordingKey = ""
	call.DurationSeconds = 95
	again, inserted, err := s.UpsertCallLog(ctx, call)
	if err != nil || inserted {
		t.Fatalf("second UpsertCallLog() = %v, %v", inserted, err)
	}
	if again.ID != stored.ID || again.LeadID != "lead-a" || again.RecordingKey != "calls/2024/04/cdr-1" {
		t.Fatalf("second UpsertCallLog() returned %+v", again)
	}

	calls, err := s.CallLogs(ctx, LeadRef{ID: "lead-a"})
	if err != nil || len(calls) != 1 {
		t.Fatalf("CallLogs() = %+v, %v", calls, err)
	}
	if calls[0].RecordingKey != "calls/2024/04/cdr-1" || calls[0].DurationSeconds != 95 {
		t.Fatalf("upsert lost data: %+v", calls[0])
	}

	if _, _, err := s.UpsertCallLog(ctx, CallLog{PBXCallID: "cdr-2", Direction: "outbound", Status: "missed", StartedAt: at.Add(time.Hour)}); err != nil {
		t.Fatalf("UpsertCallLog(unmatched) error = %v", err)
	}
	stats, err := s.CallStats(ctx, CallFilter{})
	if err != nil || stats.Total != 2 || stats.Answered != 1 || stats.Missed != 1 || stats.TotalTalkSeconds != 95 {
		t.Fatalf("CallStats() = %+v, %v", stats, err)
	}

	state, err := s.GetSyncState(ctx, "pbx_cdr")
	if err != nil || state.LastSyncAt != nil {
		t.Fatalf("GetSyncState() = %+v, %v", state, err)
	}
	state.LastSyncAt = &at
	state.LastStatus = "ok"
	state.LastFetched = 2
	if err := s.SaveSyncState(ctx, state); err != nil {
		t.Fatalf("SaveSyncState() error = %v", err)
	}
	state, err = s.GetSyncState(ctx, "pbx_cdr")
	if err != nil || state.LastSyncAt == nil || !state.LastSyncAt.Equal(at) || state.LastFetched != 2 {
		t.Fatalf("GetSyncState() after save = %+v, %v", state, err)
	}
}
