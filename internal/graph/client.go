// Package graph is an HTTP client for the external knowledge graph plus the
// two-phase persistence of proposed entities and links.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graphweave/researcher/internal/tracing"
)

// Entity is a persisted graph entity. Entity type ids are versioned type URLs;
// properties are keyed by property-type base URL.
type Entity struct {
	ID           string                 `json:"id"`
	EntityTypeID string                 `json:"entity_type_id"`
	Properties   map[string]interface{} `json:"properties"`
	CreatedAt    time.Time              `json:"created_at,omitempty"`
}

// LinkData names the endpoints of a link entity.
type LinkData struct {
	SourceEntityID string `json:"source_entity_id"`
	TargetEntityID string `json:"target_entity_id"`
}

// CreateEntityRequest is the create payload.
type CreateEntityRequest struct {
	EntityTypeID string                 `json:"entity_type_id"`
	Properties   map[string]interface{} `json:"properties"`
	LinkData     *LinkData              `json:"link_data,omitempty"`
	Provenance   []ProvenanceRecord     `json:"provenance,omitempty"`
}

// ProvenanceRecord ties a persisted entity back to the resource it came from.
type ProvenanceRecord struct {
	SourceURL string    `json:"source_url"`
	Title     string    `json:"title,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
}

// Client talks to the graph API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient builds a graph client with a 30s timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	ctx, span := tracing.StartHTTPSpan(ctx, method, c.BaseURL+path)
	defer span.End()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal graph request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph API %s %s: status %d: %s", method, path, resp.StatusCode, string(detail))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
	}
	return nil
}

// CreateEntity persists one entity or link and returns the stored record.
func (c *Client) CreateEntity(ctx context.Context, req CreateEntityRequest) (*Entity, error) {
	var out Entity
	if err := c.do(ctx, http.MethodPost, "/entities", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("graph API returned entity without id")
	}
	return &out, nil
}

// UpdateEntityProperties merges properties into an existing entity.
func (c *Client) UpdateEntityProperties(ctx context.Context, entityID string, properties map[string]interface{}) (*Entity, error) {
	var out Entity
	payload := map[string]interface{}{"properties": properties}
	if err := c.do(ctx, http.MethodPatch, "/entities/"+entityID, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryByType lists entities of one versioned type URL.
func (c *Client) QueryByType(ctx context.Context, entityTypeID string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	payload := map[string]interface{}{"entity_type_id": entityTypeID, "limit": limit}
	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodPost, "/entities/query", payload, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}
