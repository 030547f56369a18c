package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the CRM's REST note endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type addNoteRequest struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Text       string `json:"text"`
	PinToTop   bool   `json:"pin_to_top"`
}

type addNoteResponse struct {
	Note  *Note  `json:"note"`
	Error string `json:"error,omitempty"`
}

func (c *Client) AddNote(ctx context.Context, entityID, entityType, text string, pinToTop bool) (*Note, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("crm: api key is not configured")
	}
	if entityID == "" || text == "" {
		return nil, fmt.Errorf("crm: entity_id and text are required")
	}

	body, err := json.Marshal(addNoteRequest{
		EntityID:   entityID,
		EntityType: entityType,
		Text:       text,
		PinToTop:   pinToTop,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/notes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out addNoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("crm: decode response: %w", err)
	}
	if resp.StatusCode >= 400 || out.Error != "" {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("crm: add note failed: %s", out.Error)
	}
	if out.Note == nil {
		return nil, fmt.Errorf("crm: response missing note")
	}
	return out.Note, nil
}
