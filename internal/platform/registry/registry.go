// Package registry wraps the external patient-registry collaborator.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// PatientFilter narrows a patient query. All set fields must match.
type PatientFilter struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
}

// Patient is the registry's view of a person.
type Patient struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender,omitempty"`
}

// NewPatient is the creation payload.
type NewPatient struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
}

// NewGuarantor makes the patient their own guarantor.
type NewGuarantor struct {
	PatientID string `json:"patient_id"`
}

// NewCoverage attaches the program's insurer to the patient.
type NewCoverage struct {
	PatientID string `json:"patient_id"`
	InsurerID string `json:"insurer_id"`
	PolicyID  string `json:"policy_id"`
}

// NewAccount opens the billing account with the program defaults.
type NewAccount struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	LocationID string `json:"location_id"`
}

// Client is the collaborator interface the sync stage depends on.
type Client interface {
	QueryPatients(ctx context.Context, f PatientFilter) ([]Patient, error)
	CreatePatient(ctx context.Context, p NewPatient) (string, error)
	CreateGuarantor(ctx context.Context, g NewGuarantor) (string, error)
	CreateCoverage(ctx context.Context, c NewCoverage) (string, error)
	CreateAccount(ctx context.Context, a NewAccount) error
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

func (c *HTTPClient) QueryPatients(ctx context.Context, f PatientFilter) ([]Patient, error) {
	var out struct {
		Patients []Patient `json:"patients"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(f).
		SetResult(&out).
		Post("/v1/patients/query")
	if err != nil {
		return nil, fmt.Errorf("registry query patients: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry query patients: unexpected status %d", resp.StatusCode())
	}
	return out.Patients, nil
}

func (c *HTTPClient) create(ctx context.Context, path string, body interface{}) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("registry %s: %w", path, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("registry %s: unexpected status %d", path, resp.StatusCode())
	}
	return out.ID, nil
}

func (c *HTTPClient) CreatePatient(ctx context.Context, p NewPatient) (string, error) {
	return c.create(ctx, "/v1/patients", p)
}

func (c *HTTPClient) CreateGuarantor(ctx context.Context, g NewGuarantor) (string, error) {
	return c.create(ctx, "/v1/guarantors", g)
}

func (c *HTTPClient) CreateCoverage(ctx context.Context, cov NewCoverage) (string, error) {
	return c.create(ctx, "/v1/coverages", cov)
}

func (c *HTTPClient) CreateAccount(ctx context.Context, a NewAccount) error {
	_, err := c.create(ctx, "/v1/accounts", a)
	return err
}

// MaxNameLength is the registry's hard limit on first and last name fields;
// longer names are rejected on create, so validation screens them out first.
const MaxNameLength = 25
