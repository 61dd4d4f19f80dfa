// Package pbx pulls call detail records and recordings from the cloud PBX
// and folds them into the call ledger.
package pbx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("pbx is not configured")

// CDR is one call detail record as returned by the PBX.
type CDR struct {
	ID          string    `json:"id"`
	Direction   string    `json:"direction"`
	Caller      string    `json:"caller"`
	Callee      string    `json:"callee"`
	Extension   string    `json:"extension"`
	Agent       string    `json:"agent"`
	Disposition string    `json:"disposition"`
	Duration    int       `json:"duration"`
	BillSec     int       `json:"billsec"`
	StartedAt   time.Time `json:"started_at"`
	RecordingID string    `json:"recording_id"`
}

type CDRPage struct {
	Data     []CDR `json:"data"`
	NextPage *int  `json:"next_page"`
}

// Recording is an open recording download. Body must be closed.
type Recording struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
}

func NewClient(baseURL, token string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// ListCalls fetches one page of CDRs that started at or after since.
func (c *Client) ListCalls(ctx context.Context, since time.Time, page int) (CDRPage, error) {
	if !c.Configured() {
		return CDRPage{}, ErrNotConfigured
	}
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(c.pageSize))

	resp, err := c.get(ctx, "/api/v1/cdr?"+query.Encode())
	if err != nil {
		return CDRPage{}, err
	}
	defer resp.Body.Close()

	var out CDRPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CDRPage{}, fmt.Errorf("decode cdr page: %w", err)
	}
	return out, nil
}

// FetchRecording opens the audio of a recording.
func (c *Client) FetchRecording(ctx context.Context, recordingID string) (Recording, error) {
	if !c.Configured() {
		return Recording{}, ErrNotConfigured
	}
	resp, err := c.get(ctx, "/api/v1/recordings/"+url.PathEscape(recordingID))
	if err != nil {
		return Recording{}, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Recording{Body: resp.Body, Size: resp.ContentLength, ContentType: contentType}, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build pbx request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pbx request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("pbx %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
