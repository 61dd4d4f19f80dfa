// Package whatsapp sends messages through the WhatsApp REST gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("whatsapp gateway is not configured")

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type SendResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Send delivers body to the phone number to.
func (c *Client) Send(ctx context.Context, to, body string) (SendResult, error) {
	if !c.Configured() {
		return SendResult{}, ErrNotConfigured
	}
	payload, err := json.Marshal(sendRequest{To: to, Body: body})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode whatsapp message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{}, fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out SendResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, fmt.Errorf("decode whatsapp response: %w", err)
	}
	if out.ID == "" {
		return SendResult{}, errors.New("whatsapp send: response carries no message id")
	}
	return out, nil
}
