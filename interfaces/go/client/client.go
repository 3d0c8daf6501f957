// Package client is a minimal Go client for the request-recorder API, used by
// external tooling and smoke scripts.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client { return &Client{BaseURL: baseURL, HTTP: http.DefaultClient} }

type Session struct {
	ID           string `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	Status       string `json:"status"`
	RequestCount int    `json:"requestCount"`
}

type controlResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Session *Session `json:"session"`
}

func (c *Client) ListSessions() ([]Session, int, error) {
	resp, err := c.HTTP.Get(c.BaseURL + "/api/sessions")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Items []Session `json:"items"`
		Total int       `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, err
	}
	return out.Items, out.Total, nil
}

func (c *Client) StartCapture() (*Session, error) {
	return c.control("/api/capture/start")
}

func (c *Client) StopCapture() (*Session, error) {
	return c.control("/api/capture/stop")
}

func (c *Client) control(path string) (*Session, error) {
	resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out controlResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if !out.Success {
		return out.Session, fmt.Errorf("capture control failed: %s", out.Error)
	}
	return out.Session, nil
}
