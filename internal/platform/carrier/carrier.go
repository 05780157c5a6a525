// Package carrier wraps the external shipping-carrier collaborator.
package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// OrderModel is one order in an upload batch.
type OrderModel struct {
	OrderNumber    string `json:"order_number"`
	RecipientName  string `json:"recipient_name"`
	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2,omitempty"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`
	Quantity       int    `json:"quantity"`
	Routing        string `json:"routing"`
}

// OrderResult is the carrier's per-order outcome, matched back to the
// source record by OrderNumber.
type OrderResult struct {
	OrderNumber  string `json:"order_number"`
	Success      bool   `json:"success"`
	OrderID      string `json:"order_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Client is the collaborator interface the fulfillment stage depends on.
type Client interface {
	CreateOrders(ctx context.Context, orders []OrderModel) ([]OrderResult, error)
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

func (c *HTTPClient) CreateOrders(ctx context.Context, orders []OrderModel) ([]OrderResult, error) {
	var out struct {
		Results []OrderResult `json:"results"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"orders": orders}).
		SetResult(&out).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("carrier create orders: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("carrier create orders: unexpected status %d", resp.StatusCode())
	}
	return out.Results, nil
}
