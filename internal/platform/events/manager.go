// Package events fans pipeline events (claim outcomes, order milestones)
// out to registered HTTP endpoints. Payloads are signed with HMAC-SHA256,
// every delivery attempt is logged, and failed attempts can be retried.
package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Endpoint is a registered delivery destination.
type Endpoint struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	PracticeID string    `json:"practice_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	EndpointActive = "active"
	EndpointPaused = "paused"
)

// Event is one pipeline occurrence to deliver.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PracticeID string          `json:"practice_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Delivery records one attempt against one endpoint.
type Delivery struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpoint_id"`
	EventType    string        `json:"event_type"`
	EventID      string        `json:"event_id"`
	Payload      []byte        `json:"payload"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"` // "success", "failed", "pending"
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Store persists endpoints and the delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error)
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
}

// MemStore is a thread-safe in-memory Store.
type MemStore struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	deliveries    map[string]*Delivery
	endpointOrder []string
	deliveryOrder []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return ep, nil
}

func (s *MemStore) ListEndpoints(_ context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filtered []*Endpoint
	for _, id := range s.endpointOrder {
		ep := s.endpoints[id]
		if ep == nil {
			continue
		}
		if practiceID == "" || ep.PracticeID == practiceID {
			filtered = append(filtered, ep)
		}
	}
	return page(filtered, limit, offset)
}

func (s *MemStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("endpoint %s not found", ep.ID)
	}
	s.endpoints[ep.ID] = ep
	return nil
}

func (s *MemStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	s.deliveryOrder = append(s.deliveryOrder, d.ID)
	return nil
}

func (s *MemStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filtered []*Delivery
	for _, id := range s.deliveryOrder {
		d := s.deliveries[id]
		if d != nil && d.EndpointID == endpointID {
			filtered = append(filtered, d)
		}
	}
	return page(filtered, limit, offset)
}

func (s *MemStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	return d, nil
}

func page[T any](items []T, limit, offset int) ([]T, int, error) {
	total := len(items)
	if offset >= total {
		return []T{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches SignPayload(payload, secret).
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// Manager registers endpoints and delivers events to them.
type Manager struct {
	store      Store
	httpClient *http.Client
	practiceID string
	logger     zerolog.Logger
}

func NewManager(store Store, practiceID string, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		practiceID: practiceID,
		logger:     logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// RegisterEndpoint validates and persists a destination. An empty secret is
// replaced with a cryptographically random one.
func (m *Manager) RegisterEndpoint(ctx context.Context, rawURL, secret, practiceID string, eventTypes []string) (*Endpoint, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	ep := &Endpoint{
		ID:         uuid.New().String(),
		URL:        rawURL,
		Secret:     secret,
		Events:     eventTypes,
		PracticeID: practiceID,
		Status:     EndpointActive,
		CreatedAt:  time.Now(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) PauseEndpoint(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, EndpointPaused)
}

func (m *Manager) ResumeEndpoint(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, EndpointActive)
}

func (m *Manager) setStatus(ctx context.Context, id, status string) error {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Status = status
	return m.store.UpdateEndpoint(ctx, ep)
}

// eventMatches checks a subscription pattern against an event type. Patterns
// are exact ("claim.denied") or wildcard ("claim.*", "*.denied").
func eventMatches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func endpointMatchesEvent(ep *Endpoint, eventType string) bool {
	for _, pat := range ep.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Publish marshals the payload, builds an Event, and delivers it to all
// matching active endpoints. Delivery problems are logged, never returned:
// publication is best-effort and must not fail the pipeline stage that
// raised the event.
func (m *Manager) Publish(ctx context.Context, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Msg("event payload not serializable")
		return
	}
	m.Deliver(ctx, Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		PracticeID: m.practiceID,
		Payload:    raw,
		Timestamp:  time.Now(),
	})
}

// Deliver sends the event to every matching active endpoint for its practice.
func (m *Manager) Deliver(ctx context.Context, event Event) {
	endpoints, _, err := m.store.ListEndpoints(ctx, event.PracticeID, 1000, 0)
	if err != nil {
		m.logger.Error().Err(err).Msg("list endpoints for delivery")
		return
	}
	for _, ep := range endpoints {
		if ep.Status != EndpointActive || !endpointMatchesEvent(ep, event.Type) {
			continue
		}
		attempt := m.deliverToEndpoint(ctx, ep, event)
		if attempt.Status != "success" {
			m.logger.Warn().
				Str("endpoint_id", ep.ID).
				Str("event_type", event.Type).
				Str("error", attempt.Error).
				Msg("event delivery failed")
		}
	}
}

func (m *Manager) deliverToEndpoint(ctx context.Context, ep *Endpoint, event Event) *Delivery {
	payload, _ := json.Marshal(event)
	sig := SignPayload(payload, ep.Secret)
	now := time.Now()

	attempt := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  event.Type,
		EventID:    event.ID,
		Payload:    payload,
		Signature:  sig,
		Attempt:    1,
		Status:     "pending",
		CreatedAt:  now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		m.store.RecordDelivery(ctx, attempt)
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kitflow-Signature", "sha256="+sig)
	req.Header.Set("X-Kitflow-Event-ID", event.ID)
	req.Header.Set("X-Kitflow-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		m.store.RecordDelivery(ctx, attempt)
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
	} else {
		attempt.Status = "failed"
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	m.store.RecordDelivery(ctx, attempt)
	return attempt
}

// RetryDelivery re-sends a logged attempt, incrementing its counter.
func (m *Manager) RetryDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("delivery not found: %w", err)
	}
	ep, err := m.store.GetEndpoint(ctx, original.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("endpoint not found: %w", err)
	}
	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal original payload: %w", err)
	}
	attempt := m.deliverToEndpoint(ctx, ep, event)
	attempt.Attempt = original.Attempt + 1
	m.store.RecordDelivery(ctx, attempt)
	return attempt, nil
}

// TestEndpoint sends a synthetic event to verify connectivity.
func (m *Manager) TestEndpoint(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("endpoint not found: %w", err)
	}
	event := Event{
		ID:         uuid.New().String(),
		Type:       "endpoint.test",
		PracticeID: ep.PracticeID,
		Payload:    json.RawMessage(`{"test":true}`),
		Timestamp:  time.Now(),
	}
	return m.deliverToEndpoint(ctx, ep, event), nil
}

// DeliveryLogs returns paginated attempts for an endpoint.
func (m *Manager) DeliveryLogs(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	return m.store.ListDeliveries(ctx, endpointID, limit, offset)
}
