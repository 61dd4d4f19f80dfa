package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a unique constraint violation.
var ErrDuplicate = errors.New("duplicate record")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetLead reads a lead from the schema its ref addresses.
func (s *PostgresStore) GetLead(ctx context.Context, ref LeadRef) (Lead, error) {
	var lead Lead
	if ref.Legacy {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(company, ''), COALESCE(status, ''), COALESCE(owner_name, ''), created_at, updated_at
			FROM legacy_leads
			WHERE id = $1
		`, ref.LegacyID).Scan(&id, &lead.Name, &lead.Email, &lead.Phone, &lead.Company, &lead.Stage, &lead.Owner, &lead.CreatedAt, &lead.UpdatedAt)
		if err != nil {
			return Lead{}, err
		}
		lead.ID = "legacy-" + strconv.FormatInt(id, 10)
		lead.Legacy = true
		return lead, nil
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(company, ''), stage, COALESCE(owner_name, ''), created_at, updated_at
		FROM leads
		WHERE id = $1
	`, ref.ID).Scan(&lead.ID, &lead.Name, &lead.Email, &lead.Phone, &lead.Company, &lead.Stage, &lead.Owner, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// ManualInteractions returns agent notes. Current leads keep them as a JSONB
// array whose elements are returned raw; legacy leads keep one row each.
func (s *PostgresStore) ManualInteractions(ctx context.Context, ref LeadRef) ([]ManualInteraction, error) {
	if ref.Legacy {
		return s.legacyLeadInteractions(ctx, ref.LegacyID)
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(interactions, '[]'::jsonb) FROM leads WHERE id = $1`, ref.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []ManualInteraction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lead interactions: %w", err)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("decode lead interactions: %w", err)
	}
	items := make([]ManualInteraction, 0, len(elements))
	for _, element := range elements {
		items = append(items, ManualInteraction{Raw: element})
	}
	return items, nil
}

func (s *PostgresStore) legacyLeadInteractions(ctx context.Context, legacyID int64) ([]ManualInteraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(interaction_type, ''), COALESCE(direction, ''), COALESCE(subject, ''), content, COALESCE(author, ''), occurred_at
		FROM legacy_lead_interactions
		WHERE legacy_lead_id = $1
		ORDER BY occurred_at DESC
	`, legacyID)
	if err != nil {
		return nil, fmt.Errorf("list legacy lead interactions: %w", err)
	}
	defer rows.Close()

	items := make([]ManualInteraction, 0)
	for rows.Next() {
		var (
			id   int64
			item ManualInteraction
		)
		if err := rows.Scan(&id, &item.Type, &item.Direction, &item.Subject, &item.Content, &item.Author, &item.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan legacy lead interaction: %w", err)
		}
		item.ID = "lli-" + strconv.FormatInt(id, 10)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy lead interactions: %w", err)
	}
	return items, nil
}

// AppendManualInteraction stores a note and returns its id.
func (s *PostgresStore) AppendManualInteraction(ctx context.Context, ref LeadRef, item ManualInteraction) (string, error) {
	if ref.Legacy {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO legacy_lead_interactions (legacy_lead_id, interaction_type, direction, subject, content, author, occurred_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
			RETURNING id
		`, ref.LegacyID, item.Type, item.Direction, item.Subject, item.Content, item.Author, item.OccurredAt).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("insert legacy lead interaction: %w", err)
		}
		return "lli-" + strconv.FormatInt(id, 10), nil
	}

	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}
	element, err := json.Marshal(map[string]any{
		"id":         id,
		"type":       item.Type,
		"direction":  item.Direction,
		"subject":    item.Subject,
		"content":    item.Content,
		"author":     item.Author,
		"occurredAt": item.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("encode interaction: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET interactions = COALESCE(interactions, '[]'::jsonb) || jsonb_build_array($2::jsonb),
			updated_at = NOW()
		WHERE id = $1
	`, ref.ID, string(element))
	if err != nil {
		return "", fmt.Errorf("append interaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("append interaction rows: %w", err)
	}
	if affected == 0 {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (s *PostgresStore) LeadEmails(ctx context.Context, ref LeadRef) ([]LeadEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, COALESCE(message_id, ''), direction, COALESCE(subject, ''), COALESCE(body_text, ''), COALESCE(body_html, ''), COALESCE(from_address, ''), COALESCE(to_address, ''), sent_at
		FROM lead_emails
		WHERE lead_id = $1
		ORDER BY sent_at DESC
	`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list lead emails: %w", err)
	}
	defer rows.Close()

	items := make([]LeadEmail, 0)
	for rows.Next() {
		var item LeadEmail
		if err := rows.Scan(
			&item.ID,
			&item.LeadID,
			&item.MessageID,
			&item.Direction,
			&item.Subject,
			&item.BodyText,
			&item.BodyHTML,
			&item.FromAddress,
			&item.ToAddress,
			&item.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead email: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead emails: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertLeadEmail(ctx context.Context, item LeadEmail) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lead_emails (lead_id, message_id, direction, subject, body_text, body_html, from_address, to_address, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, item.LeadID, item.MessageID, item.Direction, item.Subject, item.BodyText, item.BodyHTML, item.FromAddress, item.ToAddress, item.SentAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lead email: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) WhatsAppMessages(ctx context.Context, ref LeadRef) ([]WhatsAppMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, COALESCE(wa_message_id, ''), direction, COALESCE(phone, ''), COALESCE(contact_name, ''), COALESCE(body, ''), COALESCE(media_url, ''), COALESCE(media_type, ''), COALESCE(status, ''), sent_at
		FROM whatsapp_messages
		WHERE lead_id = $1
		ORDER BY sent_at DESC
	`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list whatsapp messages: %w", err)
	}
	defer rows.Close()

	items := make([]WhatsAppMessage, 0)
	for rows.Next() {
		var item WhatsAppMessage
		if err := rows.Scan(
			&item.ID,
			&item.LeadID,
			&item.WAMessageID,
			&item.Direction,
			&item.Phone,
			&item.ContactName,
			&item.Body,
			&item.MediaURL,
			&item.MediaType,
			&item.Status,
			&item.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan whatsapp message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whatsapp messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertWhatsAppMessage(ctx context.Context, item WhatsAppMessage) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO whatsapp_messages (lead_id, wa_message_id, direction, phone, contact_name, body, media_url, media_type, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		RETURNING id
	`, item.LeadID, item.WAMessageID, item.Direction, item.Phone, item.ContactName, item.Body, item.MediaURL, item.MediaType, item.Status, item.SentAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert whatsapp message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LegacyInteractions(ctx context.Context, ref LeadRef) ([]LegacyInteraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_ref, COALESCE(channel, ''), description, COALESCE(created_by, ''), created_at
		FROM legacy_interactions
		WHERE lead_ref = $1
		ORDER BY created_at DESC
	`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list legacy interactions: %w", err)
	}
	defer rows.Close()

	items := make([]LegacyInteraction, 0)
	for rows.Next() {
		var item LegacyInteraction
		if err := rows.Scan(&item.ID, &item.LeadID, &item.Channel, &item.Description, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan legacy interaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy interactions: %w", err)
	}
	return items, nil
}

// ChangeStage moves a current lead to a new stage and records the change in
// one transaction.
func (s *PostgresStore) ChangeStage(ctx context.Context, change StageChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE leads SET stage = $2, updated_at = NOW() WHERE id = $1`, change.LeadID, change.ToStage)
	if err != nil {
		return fmt.Errorf("update lead stage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead stage rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lead_stage_history (lead_id, from_stage, to_stage, reason, changed_by)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5)
	`, change.LeadID, change.FromStage, change.ToStage, change.Reason, change.ChangedBy); err != nil {
		return fmt.Errorf("insert stage history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage change: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStageHistory(ctx context.Context, ref LeadRef, limit int) ([]StageChange, error) {
	if ref.Legacy {
		return []StageChange{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, COALESCE(from_stage, ''), to_stage, COALESCE(reason, ''), changed_by, changed_at
		FROM lead_stage_history
		WHERE lead_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stage history: %w", err)
	}
	defer rows.Close()

	items := make([]StageChange, 0)
	for rows.Next() {
		var item StageChange
		if err := rows.Scan(&item.ID, &item.LeadID, &item.FromStage, &item.ToStage, &item.Reason, &item.ChangedBy, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan stage history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage history: %w", err)
	}
	return items, nil
}

// MatchLeadsByPhone finds leads in both schemas whose phone ends with suffix.
// Current leads come first, most recently updated first.
func (s *PostgresStore) MatchLeadsByPhone(ctx context.Context, suffix string) ([]PhoneMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lead_id, name FROM (
			SELECT id::text AS lead_id, name, 0 AS schema_rank, updated_at
			FROM leads
			WHERE RIGHT(regexp_replace(COALESCE(phone, ''), '\D', '', 'g'), 8) = $1
			UNION ALL
			SELECT 'legacy-' || id::text, name, 1, updated_at
			FROM legacy_leads
			WHERE RIGHT(regexp_replace(COALESCE(phone, ''), '\D', '', 'g'), 8) = $1
		) matches
		ORDER BY schema_rank, updated_at DESC
		LIMIT 10
	`, suffix)
	if err != nil {
		return nil, fmt.Errorf("match leads by phone: %w", err)
	}
	defer rows.Close()

	items := make([]PhoneMatch, 0)
	for rows.Next() {
		var item PhoneMatch
		if err := rows.Scan(&item.LeadID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan phone match: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phone matches: %w", err)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
