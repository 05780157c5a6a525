// Package addrverify wraps the external address-verification collaborator.
package addrverify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnprocessableAddress indicates the collaborator could not make sense of
// the submitted address at all, as opposed to verifying it and finding it
// undeliverable.
var ErrUnprocessableAddress = errors.New("address unprocessable")

// Query is the address to verify. Either FullAddress or the component
// fields may be set; FullAddress wins when present.
type Query struct {
	FullAddress    string `json:"full_address,omitempty"`
	StreetAddress1 string `json:"street_address_1,omitempty"`
	StreetAddress2 string `json:"street_address_2,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	ZipCode        string `json:"zip_code,omitempty"`
}

// Result is the collaborator's standardized view of the address. Empty
// fields mean the collaborator had nothing better; callers must not
// overwrite existing data with them.
type Result struct {
	PrimaryLine   string `json:"primary_line"`
	SecondaryLine string `json:"secondary_line"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zip_code"`
	Deliverable   bool   `json:"deliverable"`
}

// Verifier is the collaborator interface the pipeline depends on.
type Verifier interface {
	Verify(ctx context.Context, q Query) (*Result, error)
}

// Client is the HTTP implementation of Verifier.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: c}
}

func (c *Client) Verify(ctx context.Context, q Query) (*Result, error) {
	var result Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(q).
		SetResult(&result).
		Post("/v1/verify")
	if err != nil {
		return nil, fmt.Errorf("address verify: %w", err)
	}
	if resp.StatusCode() == http.StatusUnprocessableEntity {
		return nil, ErrUnprocessableAddress
	}
	if resp.IsError() {
		return nil, fmt.Errorf("address verify: unexpected status %d", resp.StatusCode())
	}
	return &result, nil
}
