package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const callColumns = `id, COALESCE(lead_id, ''), COALESCE(pbx_call_id, ''), direction, COALESCE(from_number, ''), COALESCE(to_number, ''), COALESCE(extension, ''), COALESCE(agent_name, ''), status, duration_seconds, COALESCE(recording_key, ''), COALESCE(notes, ''), started_at`

func scanCall(row interface{ Scan(...any) error }) (CallLog, error) {
	var call CallLog
	err := row.Scan(
		&call.ID,
		&call.LeadID,
		&call.PBXCallID,
		&call.Direction,
		&call.FromNumber,
		&call.ToNumber,
		&call.Extension,
		&call.AgentName,
		&call.Status,
		&call.DurationSeconds,
		&call.RecordingKey,
		&call.Notes,
		&call.StartedAt,
	)
	return call, err
}

// CallLogs returns the calls attached to a lead, newest first.
func (s *PostgresStore) CallLogs(ctx context.Context, ref LeadRef) ([]CallLog, error) {
	return s.ListCalls(ctx, CallFilter{LeadID: ref.ID, Limit: 1000})
}

func (s *PostgresStore) GetCallLog(ctx context.Context, id int64) (CallLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM call_logs WHERE id = $1`, id)
	call, err := scanCall(row)
	if err != nil {
		return CallLog{}, err
	}
	return call, nil
}

func callWhere(filter CallFilter) (string, []any) {
	clauses := []string{"TRUE"}
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.LeadID != "" {
		add("lead_id = $%d", filter.LeadID)
	}
	if filter.Direction != "" {
		add("direction = $%d", filter.Direction)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.From != nil {
		add("started_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("started_at < $%d", *filter.To)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter CallFilter) ([]CallLog, error) {
	where, args := callWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM call_logs WHERE %s ORDER BY started_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		callColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	items := make([]CallLog, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		items = append(items, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CallStats(ctx context.Context, filter CallFilter) (CallStats, error) {
	where, args := callWhere(filter)
	var stats CallStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'answered'),
			COUNT(*) FILTER (WHERE status <> 'answered'),
			COALESCE(SUM(duration_seconds) FILTER (WHERE status = 'answered'), 0)
		FROM call_logs
		WHERE `+where, args...).Scan(&stats.Total, &stats.Answered, &stats.Missed, &stats.TotalTalkSeconds)
	if err != nil {
		return CallStats{}, fmt.Errorf("call stats: %w", err)
	}
	return stats, nil
}

// UpsertCallLog inserts or refreshes a call keyed by its PBX id and returns
// the row as stored. A stored lead or recording key is never overwritten with
// an empty one.
func (s *PostgresStore) UpsertCallLog(ctx context.Context, call CallLog) (CallLog, bool, error) {
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO call_logs (lead_id, pbx_call_id, direction, from_number, to_number, extension, agent_name, status, duration_seconds, recording_key, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (pbx_call_id) DO UPDATE SET
			lead_id = COALESCE(call_logs.lead_id, EXCLUDED.lead_id),
			direction = EXCLUDED.direction,
			from_number = EXCLUDED.from_number,
			to_number = EXCLUDED.to_number,
			extension = EXCLUDED.extension,
			agent_name = EXCLUDED.agent_name,
			status = EXCLUDED.status,
			duration_seconds = EXCLUDED.duration_seconds,
			recording_key = COALESCE(EXCLUDED.recording_key, call_logs.recording_key),
			started_at = EXCLUDED.started_at,
			updated_at = NOW()
		RETURNING id, COALESCE(lead_id, ''), COALESCE(recording_key, ''), COALESCE(notes, ''), (xmax = 0)
	`,
		nullIfEmpty(call.LeadID),
		call.PBXCallID,
		call.Direction,
		nullIfEmpty(call.FromNumber),
		nullIfEmpty(call.ToNumber),
		nullIfEmpty(call.Extension),
		nullIfEmpty(call.AgentName),
		call.Status,
		call.DurationSeconds,
		nullIfEmpty(call.RecordingKey),
		call.StartedAt,
	).Scan(&call.ID, &call.LeadID, &call.RecordingKey, &call.Notes, &inserted)
	if err != nil {
		return CallLog{}, false, fmt.Errorf("upsert call log: %w", err)
	}
	return call, inserted, nil
}

// GetSyncState returns the named state, or a zero state carrying only the
// name when the sync never ran.
func (s *PostgresStore) GetSyncState(ctx context.Context, name string) (SyncState, error) {
	state := SyncState{Name: name}
	var (
		lastSyncAt sql.NullTime
		lastRunAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_at, last_run_at, COALESCE(last_status, ''), COALESCE(last_error, ''), last_fetched, last_stored
		FROM pbx_sync_state
		WHERE name = $1
	`, name).Scan(&lastSyncAt, &lastRunAt, &state.LastStatus, &state.LastError, &state.LastFetched, &state.LastStored)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("read sync state: %w", err)
	}
	if lastSyncAt.Valid {
		value := lastSyncAt.Time.UTC()
		state.LastSyncAt = &value
	}
	if lastRunAt.Valid {
		value := lastRunAt.Time.UTC()
		state.LastRunAt = &value
	}
	return state, nil
}

func (s *PostgresStore) SaveSyncState(ctx context.Context, state SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pbx_sync_state (name, last_sync_at, last_run_at, last_status, last_error, last_fetched, last_stored)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_run_at = EXCLUDED.last_run_at,
			last_status = EXCLUDED.last_status,
			last_error = EXCLUDED.last_error,
			last_fetched = EXCLUDED.last_fetched,
			last_stored = EXCLUDED.last_stored
	`, state.Name, state.LastSyncAt, state.LastRunAt, state.LastStatus, state.LastError, state.LastFetched, state.LastStored)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}
