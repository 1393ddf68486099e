// Package geocode is the reverse-geocoding collaborator: one coordinate
// pair in, one address suggestion out. Lookups are best-effort; callers
// substitute FailurePlaceholder and keep going.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FailurePlaceholder is shown in the address field when the lookup fails.
const FailurePlaceholder = "(address lookup failed)"

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, client: client}
}

// Reverse looks up the display address for a coordinate. The endpoint
// speaks the Nominatim reverse format (format=jsonv2, display_name).
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: status %d", resp.StatusCode)
	}

	var r struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("reverse geocode decode: %w", err)
	}
	if r.DisplayName == "" {
		return "", fmt.Errorf("reverse geocode: empty result")
	}
	return r.DisplayName, nil
}
