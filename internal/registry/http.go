package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRegistry queries a consumer process's device listing over HTTP.
// Each Devices call is a fresh query; nothing is cached, because endpoint
// IDs change whenever the host reloads the virtual device.
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistry creates a registry client for the given base URL
// (e.g. "http://localhost:8090").
func NewHTTPRegistry(baseURL string) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Devices fetches the registered devices from the consumer's API server.
func (r *HTTPRegistry) Devices(ctx context.Context) ([]Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/devices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery query returned %s", resp.Status)
	}

	var devices []Device
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode device list: %w", err)
	}
	return devices, nil
}
