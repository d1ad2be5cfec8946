package notify

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

const (
	DefaultWebexBaseURL = "https://webexapis.com/v1"
	AdaptiveCardType    = "application/vnd.microsoft.card.adaptive"
)

type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

type Message struct {
	RoomID      string       `json:"roomId"`
	Text        string       `json:"text,omitempty"`
	Markdown    string       `json:"markdown,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type MessageResult struct {
	ID      string    `json:"id"`
	RoomID  string    `json:"roomId"`
	Created time.Time `json:"created"`
}

// AttachmentAction is what Webex stores when someone presses a card button.
type AttachmentAction struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	MessageID string         `json:"messageId"`
	RoomID    string         `json:"roomId"`
	PersonID  string         `json:"personId"`
	Inputs    map[string]any `json:"inputs"`
	Created   time.Time      `json:"created"`
}

type WebhookRequest struct {
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
	Filter    string `json:"filter,omitempty"`
	Secret    string `json:"secret,omitempty"`
}

type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TargetURL string    `json:"targetUrl"`
	Resource  string    `json:"resource"`
	Event     string    `json:"event"`
	Filter    string    `json:"filter,omitempty"`
	Status    string    `json:"status"`
	Created   time.Time `json:"created"`
}

// APIError carries the Webex status and tracking id for support cases.
type APIError struct {
	Status     int
	Message    string
	TrackingID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webex: status %d: %s (trackingId=%s)", e.Status, e.Message, e.TrackingID)
}

type WebexClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewWebexClient(baseURL, token string) *WebexClient {
	if baseURL == "" {
		baseURL = DefaultWebexBaseURL
	}
	return &WebexClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *WebexClient) CreateMessage(ctx context.Context, msg Message) (*MessageResult, error) {
	var out MessageResult
	if err := c.do(ctx, http.MethodPost, "/messages", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WebexClient) GetAttachmentAction(ctx context.Context, id string) (*AttachmentAction, error) {
	var out AttachmentAction
	if err := c.do(ctx, http.MethodGet, "/attachment/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WebexClient) CreateWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	var out Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WebexClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out struct {
		Items []Webhook `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks?max=100", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *WebexClient) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil)
}

func (c *WebexClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, TrackingID: resp.Header.Get("Trackingid")}
		var payload struct {
			Message    string `json:"message"`
			TrackingID string `json:"trackingId"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
			if payload.TrackingID != "" {
				apiErr.TrackingID = payload.TrackingID
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
