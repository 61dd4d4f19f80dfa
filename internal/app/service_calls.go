package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leaddesk/api/internal/leads"
	"leaddesk/api/internal/pbx"
	"leaddesk/api/internal/recording"
	"leaddesk/api/internal/store"
	"leaddesk/api/internal/timeline"
)

const (
	defaultCallLimit = 50
	maxCallLimit     = 200
	syncTimeout      = 2 * time.Minute
	recordingURLTTL  = 15 * time.Minute
)

// CallQuery holds the raw query parameters of the call ledger.
type CallQuery struct {
	LeadID    string
	Direction string
	Status    string
	From      string
	To        string
	Limit     string
	Offset    string
}

type callView struct {
	ID              int64     `json:"id"`
	LeadID          string    `json:"leadId,omitempty"`
	PBXCallID       string    `json:"pbxCallId,omitempty"`
	Direction       string    `json:"direction"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Extension       string    `json:"extension,omitempty"`
	Agent           string    `json:"agent,omitempty"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"durationSeconds"`
	HasRecording    bool      `json:"hasRecording"`
	Notes           string    `json:"notes,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
}

func toCallView(call store.CallLog) callView {
	return callView{
		ID:              call.ID,
		LeadID:          call.LeadID,
		PBXCallID:       call.PBXCallID,
		Direction:       call.Direction,
		From:            call.FromNumber,
		To:              call.ToNumber,
		Extension:       call.Extension,
		Agent:           call.AgentName,
		Status:          call.Status,
		DurationSeconds: call.DurationSeconds,
		HasRecording:    call.RecordingKey != "",
		Notes:           call.Notes,
		StartedAt:       call.StartedAt,
	}
}

var (
	callDirections = map[string]struct{}{"inbound": {}, "outbound": {}, "internal": {}}
	callStatuses   = map[string]struct{}{"answered": {}, "missed": {}, "busy": {}, "failed": {}, "unknown": {}}
)

func parseCallFilter(query CallQuery) (store.CallFilter, error) {
	filter := store.CallFilter{Limit: defaultCallLimit}
	invalid := func(field, message string) error {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]any{"field": field})
	}

	if raw := strings.TrimSpace(query.LeadID); raw != "" {
		ref, err := leads.ParseRef(raw)
		if err != nil {
			return store.CallFilter{}, err
		}
		filter.LeadID = ref.ID
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Direction)); raw != "" {
		if _, ok := callDirections[raw]; !ok {
			return store.CallFilter{}, invalid("direction", "direction must be inbound, outbound or internal")
		}
		filter.Direction = raw
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Status)); raw != "" {
		if _, ok := callStatuses[raw]; !ok {
			return store.CallFilter{}, invalid("status", "unknown call status")
		}
		filter.Status = raw
	}
	if raw := strings.TrimSpace(query.From); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.CallFilter{}, invalid("from", "from must be an RFC 3339 timestamp")
		}
		filter.From = &parsed
	}
	if raw := strings.TrimSpace(query.To); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.CallFilter{}, invalid("to", "to must be an RFC 3339 timestamp")
		}
		filter.To = &parsed
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return store.CallFilter{}, invalid("to", "to must not be before from")
	}
	if raw := strings.TrimSpace(query.Limit); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return store.CallFilter{}, invalid("limit", "limit must be a positive integer")
		}
		filter.Limit = min(parsed, maxCallLimit)
	}
	if raw := strings.TrimSpace(query.Offset); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return store.CallFilter{}, invalid("offset", "offset must be a non-negative integer")
		}
		filter.Offset = parsed
	}
	return filter, nil
}

// ListCalls returns one page of the call ledger with stats over the whole
// filtered range.
func (s *Service) ListCalls(ctx context.Context, query CallQuery) (map[string]any, error) {
	filter, err := parseCallFilter(query)
	if err != nil {
		return nil, err
	}
	calls, err := s.store.ListCalls(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.CallStats(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]callView, 0, len(calls))
	for _, call := range calls {
		views = append(views, toCallView(call))
	}
	return map[string]any{
		"calls": views,
		"stats": map[string]any{
			"total":            stats.Total,
			"answered":         stats.Answered,
			"missed":           stats.Missed,
			"totalTalkSeconds": stats.TotalTalkSeconds,
		},
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"hasMore": filter.Offset+len(views) < stats.Total,
	}, nil
}

// SyncCalls runs one PBX import. The import outlives a dropped request.
func (s *Service) SyncCalls(ctx context.Context) (pbx.SyncResult, error) {
	if s.syncer == nil {
		return pbx.SyncResult{}, pbx.ErrNotConfigured
	}
	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
	defer cancel()

	result, err := s.syncer.Sync(syncCtx)
	if errors.Is(err, pbx.ErrSyncInProgress) {
		return pbx.SyncResult{}, err
	}
	s.HandleSyncResult(result)
	if err != nil {
		return result, domainError(http.StatusBadGateway, "SYNC_FAILED", "PBX sync failed", result)
	}
	return result, nil
}

// HandleSyncResult drops the cached timelines of every lead a sync touched
// and indexes the calls it stored against a lead.
func (s *Service) HandleSyncResult(result pbx.SyncResult) {
	ctx := context.Background()
	byLead := map[string][]store.CallLog{}
	for _, call := range result.Stored {
		if call.LeadID != "" {
			byLead[call.LeadID] = append(byLead[call.LeadID], call)
		}
	}
	for _, leadID := range result.TouchedLeads {
		s.afterWrite(ctx, leadID, timeline.NormalizeCalls(leadID, byLead[leadID])...)
	}
}

func (s *Service) RecordingURL(ctx context.Context, callID string) (map[string]any, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(callID), 10, 64)
	if err != nil || id <= 0 {
		return nil, domainError(http.StatusBadRequest, "INVALID_CALL_ID", "Invalid call id", nil)
	}
	call, err := s.store.GetCallLog(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "CALL_NOT_FOUND", "Call not found", nil)
		}
		return nil, err
	}
	if call.RecordingKey == "" {
		return nil, domainError(http.StatusNotFound, "RECORDING_NOT_FOUND", "Call has no recording", nil)
	}
	if s.recordings == nil {
		return nil, recording.ErrNotConfigured
	}
	url, err := s.recordings.PresignedURL(ctx, call.RecordingKey, recordingURLTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       url,
		"expiresAt": s.now().Add(recordingURLTTL).UTC(),
	}, nil
}
