package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaddesk/api/internal/auth"
	"leaddesk/api/internal/authpw"
	"leaddesk/api/internal/config"
	"leaddesk/api/internal/email"
	"leaddesk/api/internal/export"
	"leaddesk/api/internal/leads"
	"leaddesk/api/internal/pbx"
	"leaddesk/api/internal/rbac"
	"leaddesk/api/internal/search"
	"leaddesk/api/internal/stages"
	"leaddesk/api/internal/store"
	"leaddesk/api/internal/timeline"
	"leaddesk/api/internal/whatsapp"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type CreateAgentInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Role        string `json:"role" validate:"omitempty,oneof=viewer agent manager admin"`
}

type TimelineQuery struct {
	Offset  int
	Limit   int
	Kinds   []string
	Refresh bool
}

type dataStore interface {
	timeline.Fetcher
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	GetLead(context.Context, store.LeadRef) (store.Lead, error)
	AppendManualInteraction(context.Context, store.LeadRef, store.ManualInteraction) (string, error)
	ChangeStage(context.Context, store.StageChange) error
	ListStageHistory(context.Context, store.LeadRef, int) ([]store.StageChange, error)
	InsertLeadEmail(context.Context, store.LeadEmail) (int64, error)
	InsertWhatsAppMessage(context.Context, store.WhatsAppMessage) (int64, error)
	ListCalls(context.Context, store.CallFilter) ([]store.CallLog, error)
	CallStats(context.Context, store.CallFilter) (store.CallStats, error)
	GetCallLog(context.Context, int64) (store.CallLog, error)
	Ping(ctx context.Context) error
}

type passwordAuth interface {
	SignIn(context.Context, authpw.SignInRequest) (store.User, error)
	CreateAgent(context.Context, authpw.CreateAgentRequest) (store.User, error)
}

type mailer interface {
	IsConfigured() bool
	Send(email.Message) (email.Sent, error)
}

type messenger interface {
	Configured() bool
	Send(ctx context.Context, to, body string) (whatsapp.SendResult, error)
}

type callSyncer interface {
	Sync(context.Context) (pbx.SyncResult, error)
}

type recordingURLs interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type interactionSearch interface {
	Search(search.Query) search.Response
	IndexInteractions(items ...timeline.Interaction)
}

type timelineExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Dependencies are the optional collaborators of the service. Leave a field
// nil when the backing system is not configured.
type Dependencies struct {
	Cache      timeline.Cache
	Pipeline   *stages.Pipeline
	Passwords  passwordAuth
	Mailer     mailer
	WhatsApp   messenger
	Syncer     callSyncer
	Recordings recordingURLs
	Search     interactionSearch
	Exporter   timelineExporter
}

type Service struct {
	cfg        config.Config
	store      dataStore
	timeline   *timeline.Service
	pipeline   *stages.Pipeline
	passwords  passwordAuth
	mailer     mailer
	whatsapp   messenger
	syncer     callSyncer
	recordings recordingURLs
	search     interactionSearch
	exporter   timelineExporter
	now        func() time.Time
}

func New(cfg config.Config, dataStore dataStore, deps Dependencies) (*Service, error) {
	pipeline := deps.Pipeline
	if pipeline == nil {
		loaded, err := stages.Load("")
		if err != nil {
			return nil, err
		}
		pipeline = loaded
	}
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		timeline:   timeline.NewService(dataStore, deps.Cache, cfg.MinMeaningfulLength),
		pipeline:   pipeline,
		passwords:  deps.Passwords,
		mailer:     deps.Mailer,
		whatsapp:   deps.WhatsApp,
		syncer:     deps.Syncer,
		recordings: deps.Recordings,
		search:     deps.Search,
		exporter:   deps.Exporter,
		now:        time.Now,
	}, nil
}

// EnsureAdmin creates the configured admin account on first start.
func (s *Service) EnsureAdmin(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" || s.passwords == nil {
		return nil
	}
	_, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(s.cfg.AdminEmail)))
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.passwords.CreateAgent(ctx, authpw.CreateAgentRequest{
		Email:       s.cfg.AdminEmail,
		Password:    s.cfg.AdminPassword,
		DisplayName: "Administrator",
		Role:        string(rbac.RoleAdmin),
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Printf("auth: seeded admin account %s", s.cfg.AdminEmail)
	return nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	if strings.TrimSpace(emailAddr) == "" || password == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required", nil)
	}
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) CreateAgent(ctx context.Context, input CreateAgentInput) (map[string]any, error) {
	if s.passwords == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	input.Email = strings.TrimSpace(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := leads.Validate(input); err != nil {
		return nil, err
	}
	user, err := s.passwords.CreateAgent(ctx, authpw.CreateAgentRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		Role:        input.Role,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) || errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return nil, err
	}
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
	}, nil
}

func (s *Service) Stages() map[string]any {
	return map[string]any{"stages": s.pipeline.Stages}
}

// loadLead resolves an external lead id and reads the lead from its schema.
func (s *Service) loadLead(ctx context.Context, id string) (store.LeadRef, store.Lead, error) {
	ref, err := leads.ParseRef(id)
	if err != nil {
		return store.LeadRef{}, store.Lead{}, err
	}
	lead, err := s.store.GetLead(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.LeadRef{}, store.Lead{}, domainError(http.StatusNotFound, "LEAD_NOT_FOUND", "Lead not found", nil)
		}
		return store.LeadRef{}, store.Lead{}, err
	}
	return ref, lead, nil
}

func (s *Service) GetLead(ctx context.Context, id string) (map[string]any, error) {
	_, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	return leadPayload(lead), nil
}

func leadPayload(lead store.Lead) map[string]any {
	payload := map[string]any{
		"id":      lead.ID,
		"name":    lead.Name,
		"email":   lead.Email,
		"phone":   lead.Phone,
		"company": lead.Company,
		"stage":   lead.Stage,
		"owner":   lead.Owner,
		"legacy":  lead.Legacy,
	}
	if !lead.CreatedAt.IsZero() {
		payload["createdAt"] = lead.CreatedAt
	}
	if !lead.UpdatedAt.IsZero() {
		payload["updatedAt"] = lead.UpdatedAt
	}
	return payload
}

func parseKinds(values []string) ([]timeline.Kind, error) {
	var kinds []timeline.Kind
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			kind, ok := timeline.ParseKind(part)
			if !ok {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown interaction kind", map[string]any{"kind": part})
			}
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func (s *Service) Timeline(ctx context.Context, id string, query TimelineQuery) (timeline.Page, error) {
	kinds, err := parseKinds(query.Kinds)
	if err != nil {
		return timeline.Page{}, err
	}
	ref, _, err := s.loadLead(ctx, id)
	if err != nil {
		return timeline.Page{}, err
	}
	window := timeline.Window{Offset: query.Offset, Limit: query.Limit}
	page, err := s.timeline.Timeline(ctx, ref, window, timeline.Options{Refresh: query.Refresh, Kinds: kinds})
	if err != nil {
		return timeline.Page{}, err
	}
	if page.Items == nil {
		page.Items = []timeline.Interaction{}
	}
	return page, nil
}

// AddManualInteraction records an agent note and returns it as it will
// appear in the timeline.
func (s *Service) AddManualInteraction(ctx context.Context, session Session, id string, input leads.ManualInteractionInput) (timeline.Interaction, error) {
	ref, _, err := s.loadLead(ctx, id)
	if err != nil {
		return timeline.Interaction{}, err
	}
	row, err := leads.BuildManualInteraction(input, session.UserName, s.now())
	if err != nil {
		return timeline.Interaction{}, err
	}
	row.ID, err = s.store.AppendManualInteraction(ctx, ref, row)
	if err != nil {
		return timeline.Interaction{}, err
	}

	items := timeline.NormalizeManual(ref.ID, []store.ManualInteraction{row})
	s.afterWrite(ctx, ref.ID, items...)
	if len(items) == 0 {
		return timeline.Interaction{}, fmt.Errorf("manual interaction %s did not normalize", row.ID)
	}
	return items[0], nil
}

// afterWrite drops the cached timeline of a lead and indexes what was written.
func (s *Service) afterWrite(ctx context.Context, leadID string, items ...timeline.Interaction) {
	if err := s.timeline.Invalidate(ctx, leadID); err != nil {
		log.Printf("timeline: invalidate lead=%s err=%v", leadID, err)
	}
	if s.search != nil && len(items) > 0 {
		s.search.IndexInteractions(items...)
	}
}

func (s *Service) StageWidget(ctx context.Context, id string) (stages.Widget, error) {
	ref, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return stages.Widget{}, err
	}
	return s.stageWidget(ctx, ref, lead)
}

func (s *Service) stageWidget(ctx context.Context, ref store.LeadRef, lead store.Lead) (stages.Widget, error) {
	history, err := s.store.ListStageHistory(ctx, ref, 20)
	if err != nil {
		return stages.Widget{}, err
	}
	return s.pipeline.Widget(lead, history), nil
}

func (s *Service) ChangeStage(ctx context.Context, session Session, id string, input leads.StageChangeInput) (stages.Widget, error) {
	if err := leads.Validate(input); err != nil {
		return stages.Widget{}, err
	}
	ref, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return stages.Widget{}, err
	}
	transition, err := s.pipeline.CheckTransition(lead, input.Stage, input.Reason)
	if err != nil {
		return stages.Widget{}, err
	}
	if transition.Noop {
		return s.stageWidget(ctx, ref, lead)
	}

	if err := s.store.ChangeStage(ctx, store.StageChange{
		LeadID:    ref.ID,
		FromStage: transition.From,
		ToStage:   transition.To.Key,
		Reason:    transition.Reason,
		ChangedBy: session.UserName,
		ChangedAt: s.now().UTC(),
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stages.Widget{}, domainError(http.StatusNotFound, "LEAD_NOT_FOUND", "Lead not found", nil)
		}
		return stages.Widget{}, err
	}
	lead.Stage = transition.To.Key
	return s.stageWidget(ctx, ref, lead)
}

func (s *Service) Search(ctx context.Context, text, kind, leadID string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" {
		if _, ok := timeline.ParseKind(kind); !ok {
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown interaction kind", map[string]any{"kind": kind})
		}
	}
	if leadID = strings.TrimSpace(leadID); leadID != "" {
		ref, err := leads.ParseRef(leadID)
		if err != nil {
			return search.Response{}, err
		}
		leadID = ref.ID
	}
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{Text: text, Kind: kind, LeadID: leadID, Limit: limit, Offset: offset}), nil
}

// Export renders the full timeline of a lead to a document.
func (s *Service) Export(ctx context.Context, session Session, id, format string) (*export.Result, error) {
	parsed, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", map[string]any{"format": format})
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	ref, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	items, warnings, err := s.timeline.All(ctx, ref, timeline.Options{})
	if err != nil {
		return nil, err
	}
	stage := lead.Stage
	if current, ok := s.pipeline.Lookup(lead.Stage); ok {
		stage = current.Label
	}
	return s.exporter.Export(ctx, export.Request{
		Lead:        lead,
		Stage:       stage,
		Items:       items,
		Warnings:    warnings,
		Format:      parsed,
		GeneratedBy: session.UserName,
		GeneratedAt: s.now(),
	})
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
