package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StorePG persists endpoints and the delivery log in Postgres so
// registrations survive a process restart.
type StorePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) *StorePG { return &StorePG{pool: pool} }

const endpointCols = `id, url, secret, events, practice_id, status, created_at`

func (s *StorePG) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (`+endpointCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ep.ID, ep.URL, ep.Secret, ep.Events, ep.PracticeID, ep.Status, ep.CreatedAt)
	return err
}

func (s *StorePG) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var ep Endpoint
	err := s.pool.QueryRow(ctx, `
		SELECT `+endpointCols+` FROM webhook_endpoints WHERE id = $1`, id).
		Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Events, &ep.PracticeID, &ep.Status, &ep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *StorePG) ListEndpoints(ctx context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error) {
	var total int
	filter := ""
	args := []interface{}{limit, offset}
	if practiceID != "" {
		filter = ` WHERE practice_id = $3`
		args = append(args, practiceID)
	}
	countArgs := args[2:]
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM webhook_endpoints`+filter, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointCols+` FROM webhook_endpoints`+filter+`
		ORDER BY created_at, id LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Events, &ep.PracticeID, &ep.Status, &ep.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &ep)
	}
	return out, total, rows.Err()
}

func (s *StorePG) UpdateEndpoint(ctx context.Context, ep *Endpoint) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_endpoints SET url = $2, secret = $3, events = $4, status = $5
		WHERE id = $1`,
		ep.ID, ep.URL, ep.Secret, ep.Events, ep.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s not found", ep.ID)
	}
	return nil
}

func (s *StorePG) DeleteEndpoint(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s not found", id)
	}
	return nil
}

const deliveryCols = `id, endpoint_id, event_type, event_id, payload, signature,
	status_code, response_body, duration_ns, attempt, status, error, created_at`

func (s *StorePG) RecordDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.EndpointID, d.EventType, d.EventID, d.Payload, d.Signature,
		d.StatusCode, d.ResponseBody, d.Duration, d.Attempt, d.Status, d.Error, d.CreatedAt)
	return err
}

func (s *StorePG) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM webhook_deliveries WHERE endpoint_id = $1`, endpointID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE endpoint_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		endpointID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventType, &d.EventID, &d.Payload, &d.Signature,
			&d.StatusCode, &d.ResponseBody, &d.Duration, &d.Attempt, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &d)
	}
	return out, total, rows.Err()
}

func (s *StorePG) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	var d Delivery
	err := s.pool.QueryRow(ctx, `
		SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id = $1`, id).
		Scan(&d.ID, &d.EndpointID, &d.EventType, &d.EventID, &d.Payload, &d.Signature,
			&d.StatusCode, &d.ResponseBody, &d.Duration, &d.Attempt, &d.Status, &d.Error, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
