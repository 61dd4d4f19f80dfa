package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leaddesk/api/internal/authpw"
	"leaddesk/api/internal/pbx"
	"leaddesk/api/internal/store"
)

func usersByRole() func(context.Context, string) (store.User, error) {
	return func(_ context.Context, id string) (store.User, error) {
		return store.User{ID: id, DisplayName: "User " + id, Role: id}, nil
	}
}

func tokenFor(t *testing.T, svc *Service, role string) string {
	t.Helper()
	session, err := svc.issueSession(store.User{ID: role, DisplayName: "User " + role, Role: role})
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	return session.Token
}

func serve(svc *Service, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	NewHTTPServer(svc, "*").Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, Dependencies{})
	rr := serve(svc, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	healthy := newTestService(t, &fakeStore{}, Dependencies{})
	if rr := serve(healthy, http.MethodGet, "/api/ready", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	down := newTestService(t, &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}, Dependencies{})
	rr := serve(down, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSignInAndSession(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: usersByRole()}
	svc := newTestService(t, fs, Dependencies{Passwords: &fakePasswords{
		signInFn: func(_ context.Context, req authpw.SignInRequest) (store.User, error) {
			if req.Password != "correct-horse" {
				return store.User{}, errors.New("invalid email or password")
			}
			return store.User{ID: "agent", DisplayName: "User agent", Role: "agent"}, nil
		},
	}})

	rr := serve(svc, http.MethodPost, "/api/auth/signin", "", `{"email":"ana@office.test","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodPost, "/api/auth/signin", "", `{"email":"ana@office.test","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := decodeResponse(t, rr)["accessToken"].(string)
	if token == "" {
		t.Fatal("expected access token")
	}

	rr = serve(svc, http.MethodGet, "/api/session", token, "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["role"] != "agent" {
		t.Fatalf("unexpected session %+v", payload)
	}

	rr = serve(svc, http.MethodGet, "/api/session", "garbage", "")
	if decodeResponse(t, rr)["authenticated"] != false {
		t.Fatal("invalid token must not authenticate")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, Dependencies{})
	for _, path := range []string{"/api/stages", "/api/leads/" + testLeadID + "/timeline", "/api/calls", "/api/search?q=x"} {
		if rr := serve(svc, http.MethodGet, path, "", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestRoleChecks(t *testing.T) {
	svc := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{Syncer: &fakeSyncer{}})
	tests := []struct {
		role   string
		method string
		path   string
		body   string
		want   int
	}{
		{"viewer", http.MethodGet, "/api/stages", "", http.StatusOK},
		{"viewer", http.MethodPost, "/api/leads/" + testLeadID + "/interactions", `{"kind":"note","content":"hello"}`, http.StatusForbidden},
		{"agent", http.MethodPost, "/api/leads/" + testLeadID + "/interactions", `{"kind":"note","content":"hello"}`, http.StatusCreated},
		{"agent", http.MethodPost, "/api/calls/sync", "", http.StatusForbidden},
		{"manager", http.MethodPost, "/api/calls/sync", "", http.StatusOK},
		{"agent", http.MethodPost, "/api/leads/" + testLeadID + "/export", `{"format":"pdf"}`, http.StatusForbidden},
		{"manager", http.MethodPost, "/api/users", `{"email":"new@office.test","password":"s3cret-pass","displayName":"New"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		rr := serve(svc, tt.method, tt.path, tokenFor(t, svc, tt.role), tt.body)
		if rr.Code != tt.want {
			t.Errorf("%s %s %s: expected %d, got %d (%s)", tt.role, tt.method, tt.path, tt.want, rr.Code, rr.Body.String())
		}
	}
}

func TestTimelineEndpoint(t *testing.T) {
	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		getUserByIDFn: usersByRole(),
		leadEmailsFn: func(_ context.Context, ref store.LeadRef) ([]store.LeadEmail, error) {
			return []store.LeadEmail{
				{ID: 1, LeadID: ref.ID, MessageID: "<m1@x>", Subject: "Pricing", BodyText: "Could you send the price list?", Direction: "inbound", SentAt: at},
				{ID: 2, LeadID: ref.ID, MessageID: "<m2@x>", Subject: "Re: Pricing", BodyText: "ok", Direction: "inbound", SentAt: at.Add(time.Hour)},
			}, nil
		},
		whatsAppMessagesFn: func(context.Context, store.LeadRef) ([]store.WhatsAppMessage, error) {
			return nil, errors.New("relation does not exist")
		},
	}
	svc := newTestService(t, fs, Dependencies{})

	rr := serve(svc, http.MethodGet, "/api/leads/"+testLeadID+"/timeline?limit=10", tokenFor(t, svc, "viewer"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	items, _ := payload["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected the short email to be filtered out, got %d items", len(items))
	}
	warnings, _ := payload["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("expected a whatsapp warning, got %+v", payload["warnings"])
	}

	rr = serve(svc, http.MethodGet, "/api/leads/not-a-lead/timeline", tokenFor(t, svc, "viewer"), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid lead id, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodGet, "/api/leads/"+testLeadID+"/timeline?kind=fax", tokenFor(t, svc, "viewer"), "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown kind, got %d", rr.Code)
	}
}

func TestStageEndpoints(t *testing.T) {
	svc := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{})
	token := tokenFor(t, svc, "agent")

	rr := serve(svc, http.MethodGet, "/api/leads/"+testLeadID+"/stage", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	current, _ := decodeResponse(t, rr)["current"].(map[string]any)
	if current["key"] != "new" {
		t.Fatalf("unexpected current stage %+v", current)
	}

	rr = serve(svc, http.MethodPut, "/api/leads/legacy-5/stage", token, `{"stage":"won"}`)
	if rr.Code != http.StatusConflict || decodeResponse(t, rr)["code"] != "LEGACY_READ_ONLY" {
		t.Fatalf("expected 409 LEGACY_READ_ONLY, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(svc, http.MethodPut, "/api/leads/"+testLeadID+"/stage", token, `{"stage":"frozen"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown stage, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodPut, "/api/leads/"+testLeadID+"/stage", token, `{}`)
	if rr.Code != http.StatusUnprocessableEntity || decodeResponse(t, rr)["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR for missing stage, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodDelete, "/api/leads/"+testLeadID+"/stage", token, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{Exporter: &fakeExporter{}})
	rr := serve(svc, http.MethodPost, "/api/leads/"+testLeadID+"/export", tokenFor(t, svc, "manager"), `{"format":"pdf"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "acme-corp-timeline.pdf") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if rr.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	unconfigured := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{})
	rr = serve(unconfigured, http.MethodPost, "/api/leads/"+testLeadID+"/export", tokenFor(t, unconfigured, "manager"), `{"format":"docx"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without exporter, got %d", rr.Code)
	}
}

func TestCallsEndpoints(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: usersByRole(),
		listCallsFn: func(_ context.Context, filter store.CallFilter) ([]store.CallLog, error) {
			if filter.Status != "answered" || filter.Limit != 5 {
				t.Fatalf("unexpected filter %+v", filter)
			}
			return []store.CallLog{{ID: 4, Direction: "inbound", Status: "answered", DurationSeconds: 95, RecordingKey: "calls/x.mp3"}}, nil
		},
		callStatsFn: func(context.Context, store.CallFilter) (store.CallStats, error) {
			return store.CallStats{Total: 12, Answered: 12, TotalTalkSeconds: 1300}, nil
		},
	}
	svc := newTestService(t, fs, Dependencies{Syncer: &fakeSyncer{err: pbx.ErrSyncInProgress}})
	token := tokenFor(t, svc, "manager")

	rr := serve(svc, http.MethodGet, "/api/calls?status=answered&limit=5", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	calls, _ := payload["calls"].([]any)
	stats, _ := payload["stats"].(map[string]any)
	if len(calls) != 1 || stats["total"] != float64(12) || payload["hasMore"] != true {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if first, _ := calls[0].(map[string]any); first["hasRecording"] != true {
		t.Fatalf("expected hasRecording flag, got %+v", first)
	}

	rr = serve(svc, http.MethodPost, "/api/calls/sync", token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a sync runs, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodGet, "/api/calls/4/recording", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", rr.Code)
	}

	rr = serve(svc, http.MethodGet, "/api/calls/4/transcript", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rr.Code)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{Passwords: &fakePasswords{}})
	rr := serve(svc, http.MethodPost, "/api/users", tokenFor(t, svc, "admin"), `{"email":"new@office.test","password":"s3cret-pass","displayName":"New","role":"manager"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(svc, http.MethodPost, "/api/users", tokenFor(t, svc, "admin"), `{"email":"new@office.test","password":"s3cret-pass","displayName":"New","role":"owner"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown role, got %d", rr.Code)
	}
	details, _ := decodeResponse(t, rr)["details"].(map[string]any)
	if fields, _ := details["fields"].([]any); len(fields) != 1 {
		t.Fatalf("expected one field error, got %+v", details)
	}
}

func TestUnknownRoute(t *testing.T) {
	svc := newTestService(t, &fakeStore{getUserByIDFn: usersByRole()}, Dependencies{})
	if rr := serve(svc, http.MethodGet, "/api/nothing", tokenFor(t, svc, "viewer"), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
