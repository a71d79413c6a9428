package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pipesync/pkg/models"
)

// SecretHeader carries the optional shared secret of the file backend.
const SecretHeader = "X-Persistence-Secret"

// LoadResponse is the body of GET /persistence/load.
type LoadResponse struct {
	Status string           `json:"status"`
	Data   *models.Snapshot `json:"data,omitempty"`
}

// Load statuses.
const (
	LoadStatusOK    = "ok"
	LoadStatusEmpty = "empty"
)

// HTTPFileBackend is an HTTP implementation of the FileBackend interface.
type HTTPFileBackend struct {
	url    string
	secret string
	client *http.Client
}

// NewHTTPFileBackend creates a new HTTPFileBackend. A zero timeout means no
// client-side deadline.
func NewHTTPFileBackend(url, secret string, timeout time.Duration) *HTTPFileBackend {
	return &HTTPFileBackend{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Load fetches the stored snapshot.
func (c *HTTPFileBackend) Load(ctx context.Context) (*models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/persistence/load", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to make request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: failed to load snapshot: status code %d", ErrTransport, resp.StatusCode)
	}

	var body LoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if body.Status != LoadStatusOK || body.Data == nil {
		return nil, nil
	}
	return body.Data, nil
}

// Save posts the full snapshot.
func (c *HTTPFileBackend) Save(ctx context.Context, snapshot models.Snapshot) error {
	requestBody, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/persistence/save", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to make request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: failed to save snapshot: status code %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *HTTPFileBackend) authorize(req *http.Request) {
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}
}
