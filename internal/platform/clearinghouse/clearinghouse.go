// Package clearinghouse wraps the external insurance-clearinghouse
// collaborator: fire-and-forget claim submission plus the reporting feed
// the billing reconciliation stage polls.
package clearinghouse

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClaimModel is one claim in a submission batch.
type ClaimModel struct {
	PatientExternalID string    `json:"patient_external_id"`
	PolicyID          string    `json:"policy_id"`
	PolicyCarrier     string    `json:"policy_carrier"`
	ServiceDate       time.Time `json:"service_date"`
	Units             int       `json:"units"`
}

// ChargeEvent is one submission or denial reported by the billing system,
// keyed by its encounter id.
type ChargeEvent struct {
	EncounterID       string    `json:"encounter_id"`
	PatientExternalID string    `json:"patient_external_id"`
	ClaimID           string    `json:"claim_id"`
	EventType         string    `json:"event_type"` // "submitted", "denied" or "paid"
	Units             int       `json:"units"`
	AmountCents       int64     `json:"amount_cents"`
	ServiceDate       time.Time `json:"service_date"`
	ReportedAt        time.Time `json:"reported_at"`
}

// Client is the collaborator interface billing depends on.
type Client interface {
	// SubmitClaims is fire-and-forget; outcomes arrive later through the
	// reporting feed.
	SubmitClaims(ctx context.Context, claims []ClaimModel) error

	// QueryEventsSince returns submission and denial events reported after
	// the cursor, oldest first.
	QueryEventsSince(ctx context.Context, since time.Time) ([]ChargeEvent, error)
}

// HTTPClient is the resty implementation of Client.
type HTTPClient struct {
	http *resty.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &HTTPClient{http: c}
}

func (c *HTTPClient) SubmitClaims(ctx context.Context, claims []ClaimModel) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"claims": claims}).
		Post("/v1/claims")
	if err != nil {
		return fmt.Errorf("clearinghouse submit claims: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("clearinghouse submit claims: unexpected status %d", resp.StatusCode())
	}
	return nil
}

func (c *HTTPClient) QueryEventsSince(ctx context.Context, since time.Time) ([]ChargeEvent, error) {
	var out struct {
		Events []ChargeEvent `json:"events"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out)
	if !since.IsZero() {
		req.SetQueryParam("since", since.UTC().Format(time.RFC3339))
	}
	resp, err := req.Get("/v1/charge-events")
	if err != nil {
		return nil, fmt.Errorf("clearinghouse query events: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("clearinghouse query events: unexpected status %d", resp.StatusCode())
	}
	return out.Events, nil
}
