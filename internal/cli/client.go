package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client calls the casework HTTP API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx response decoded from the error body.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Field       string `json:"field"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s", e.Status, e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	return msg
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// clientFromEnv reads CASEWORK_URL and CASEWORK_TOKEN.
func clientFromEnv() (*Client, error) {
	token := os.Getenv("CASEWORK_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("CASEWORK_TOKEN is not set (mint one with 'caseworkctl token')")
	}
	baseURL := os.Getenv("CASEWORK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return NewClient(baseURL, token), nil
}

// Do sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
