package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// IdempotencyHeader carries the per-record key so the backend can drop
// duplicate deliveries of the same pending action.
const IdempotencyHeader = "Idempotency-Key"

// Deliverer sends one pending action to the backend. A nil error means the
// backend acknowledged the mutation.
type Deliverer interface {
	Deliver(ctx context.Context, a models.PendingAction) error
}

// DeliveryError reports a non-2xx answer from a mutation endpoint.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s rejected with status %d", e.Endpoint, e.StatusCode)
}

// HTTPDeliverer POSTs {action, data} to the endpoint selected by the action type.
type HTTPDeliverer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDeliverer creates a deliverer targeting baseURL. A nil client uses a
// client with a 30 second timeout.
func NewHTTPDeliverer(baseURL string, client *http.Client) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDeliverer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, a models.PendingAction) error {
	endpoint, err := models.EndpointFor(a.Type)
	if err != nil {
		return err
	}
	body, err := json.Marshal(models.DeliveryBody{Action: a.Action, Data: a.Data})
	if err != nil {
		return fmt.Errorf("encode delivery body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.IdempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, a.IdempotencyKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	slog.Debug("HTTPDeliverer.Deliver: acknowledged", "id", a.ID, "endpoint", endpoint, "status", resp.StatusCode)
	return nil
}
