package pbx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientListCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/cdr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("since") != "2024-03-01T00:00:00Z" || q.Get("page") != "2" || q.Get("page_size") != "50" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"c1","direction":"inbound","caller":"+55 11 99999-0000","callee":"200","disposition":"ANSWERED","duration":70,"billsec":61,"started_at":"2024-03-01T10:00:00Z","recording_id":"r1"}],"next_page":3}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret", 50)
	page, err := client.ListCalls(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 2)
	if err != nil {
		t.Fatalf("ListCalls() error = %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].BillSec != 61 || page.Data[0].RecordingID != "r1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.NextPage == nil || *page.NextPage != 3 {
		t.Fatalf("NextPage = %v", page.NextPage)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "x", 0).ListCalls(context.Background(), time.Now(), 1)
	if err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestClientFetchRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/recordings/r%201" && r.URL.RawPath != "/api/v1/recordings/r%201" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, "ID3audio")
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL, "", 0).FetchRecording(context.Background(), "r 1")
	if err != nil {
		t.Fatalf("FetchRecording() error = %v", err)
	}
	defer rec.Body.Close()
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "ID3audio" || rec.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected recording: %q %s", body, rec.ContentType)
	}
}

func TestClientNotConfigured(t *testing.T) {
	if _, err := NewClient("", "", 0).ListCalls(context.Background(), time.Now(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPhoneSuffix(t *testing.T) {
	tests := map[string]string{
		"+55 (11) 99999-0000": "99990000",
		"011 9999 0000":       "99990000",
		"200":                 "",
		"":                    "",
	}
	for in, want := range tests {
		if got := PhoneSuffix(in); got != want {
			t.Errorf("PhoneSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
