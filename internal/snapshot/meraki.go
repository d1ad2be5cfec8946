package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultMerakiBaseURL = "https://api.meraki.com/api/v1"

// MerakiClient talks to the Meraki Dashboard camera API.
type MerakiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMerakiClient(baseURL, apiKey string, timeout time.Duration) *MerakiClient {
	if baseURL == "" {
		baseURL = DefaultMerakiBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MerakiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Timestamp string `json:"timestamp"`
}

type generateResponse struct {
	URL    string   `json:"url"`
	Expiry string   `json:"expiry,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Generate asks the camera for a snapshot at ts. The returned URL is usually not
// downloadable for a few seconds.
func (c *MerakiClient) Generate(ctx context.Context, serial, ts string) (string, error) {
	body, err := json.Marshal(generateRequest{Timestamp: ts})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/devices/%s/camera/generateSnapshot", c.baseURL, url.PathEscape(serial))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Cisco-Meraki-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("meraki: generateSnapshot status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("meraki: decode snapshot response: %w", err)
	}
	if len(out.Errors) > 0 {
		return "", fmt.Errorf("meraki: %s", strings.Join(out.Errors, "; "))
	}
	if out.URL == "" {
		return "", fmt.Errorf("meraki: snapshot response without url")
	}
	return out.URL, nil
}

// Probe reports whether the image behind ref can be fetched yet.
func (c *MerakiClient) Probe(ctx context.Context, ref string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return resp.StatusCode == http.StatusOK, nil
}

// StaticProvider always returns the same image. Used for bench runs without a camera.
type StaticProvider struct {
	URL string
}

func (s StaticProvider) Generate(ctx context.Context, serial, ts string) (string, error) {
	return s.URL, nil
}

func (s StaticProvider) Probe(ctx context.Context, ref string) (bool, error) {
	return true, nil
}
