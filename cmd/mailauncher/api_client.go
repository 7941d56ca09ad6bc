package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/controlplane"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

// apiPost performs a POST request to the API with timeout.
func apiPost(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return apiDo(http.MethodPost, path, bytes.NewReader(jsonData))
}

// apiDelete performs a DELETE request to the API with timeout.
func apiDelete(path string) ([]byte, error) {
	return apiDo(http.MethodDelete, path, nil)
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, data)
	}

	return data, nil
}

// apiError prefers the server's {"error": ...} message over the raw body.
func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (%d)", e.Error, status)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}

// checkHealthAt checks if the daemon at addr is healthy and returns the
// health response. Unlike other API calls, this returns the parsed response
// even on non-200 responses, so callers can inspect it alongside the error.
func checkHealthAt(addr string) (*controlplane.HealthResponse, error) {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health controlplane.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	// Return both payload and error on non-200 status
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}

	return &health, nil
}
