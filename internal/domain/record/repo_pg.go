package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const intakeCols = `r.id, r.universal_id, r.kind, r.status, r.practice_id, r.created_at, r.updated_at,
	i.first_name, i.last_name, i.birthday, i.gender,
	i.email, i.phone_number, i.sms_opt_in, i.subscription_opt_in,
	i.street_address_1, i.street_address_2, i.city, i.state, i.zip_code, i.full_address,
	i.policy_id, i.policy_carrier, i.test_quantity, i.submission_id, i.registry_patient_id`

const intakeFrom = ` FROM records r JOIN intake_records i ON i.record_id = r.id`

func scanIntake(row pgx.Row) (*Intake, error) {
	var in Intake
	err := row.Scan(&in.Record.ID, &in.Record.UniversalID, &in.Record.Kind, &in.Record.Status,
		&in.Record.PracticeID, &in.Record.CreatedAt, &in.Record.UpdatedAt,
		&in.Payload.FirstName, &in.Payload.LastName, &in.Payload.Birthday, &in.Payload.Gender,
		&in.Payload.Email, &in.Payload.PhoneNumber, &in.Payload.SmsOptIn, &in.Payload.SubscriptionOptIn,
		&in.Payload.StreetAddress1, &in.Payload.StreetAddress2, &in.Payload.City, &in.Payload.State,
		&in.Payload.ZipCode, &in.Payload.FullAddress,
		&in.Payload.PolicyID, &in.Payload.PolicyCarrier, &in.Payload.TestQuantity,
		&in.Payload.SubmissionID, &in.Payload.RegistryPatientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	in.Payload.RecordID = in.Record.ID
	return &in, nil
}

func collectIntakes(rows pgx.Rows) ([]*Intake, error) {
	defer rows.Close()
	var out []*Intake
	for rows.Next() {
		in, err := scanIntake(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func insertRecord(ctx context.Context, q queryable, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.UniversalID == uuid.Nil {
		r.UniversalID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO records (id, universal_id, kind, status, practice_id)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.UniversalID, r.Kind, r.Status, r.PracticeID)
	return err
}

func casStatus(ctx context.Context, q queryable, id uuid.UUID, from, to Status) error {
	tag, err := q.Exec(ctx, `
		UPDATE records SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing record.
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// =========== Intake Store ===========

type intakeStorePG struct{ pool *pgxpool.Pool }

func NewIntakeStorePG(pool *pgxpool.Pool) IntakeStore { return &intakeStorePG{pool: pool} }

func (s *intakeStorePG) Create(ctx context.Context, in *Intake) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	in.Record.Kind = KindIntake
	if err := insertRecord(ctx, tx, &in.Record); err != nil {
		return err
	}
	in.Payload.RecordID = in.Record.ID
	p := in.Payload
	_, err = tx.Exec(ctx, `
		INSERT INTO intake_records (record_id, first_name, last_name, birthday, gender,
			email, phone_number, sms_opt_in, subscription_opt_in,
			street_address_1, street_address_2, city, state, zip_code, full_address,
			policy_id, policy_carrier, test_quantity, submission_id, registry_patient_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		p.RecordID, p.FirstName, p.LastName, p.Birthday, p.Gender,
		p.Email, p.PhoneNumber, p.SmsOptIn, p.SubscriptionOptIn,
		p.StreetAddress1, p.StreetAddress2, p.City, p.State, p.ZipCode, p.FullAddress,
		p.PolicyID, p.PolicyCarrier, p.TestQuantity, p.SubmissionID, p.RegistryPatientID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *intakeStorePG) GetByID(ctx context.Context, id uuid.UUID) (*Intake, error) {
	return scanIntake(s.pool.QueryRow(ctx, `SELECT `+intakeCols+intakeFrom+` WHERE r.id = $1`, id))
}

func (s *intakeStorePG) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Intake, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intakeCols+intakeFrom+`
		WHERE r.status = ANY($1)
		ORDER BY r.created_at, r.id
		LIMIT $2`, statusStrings(statuses), limit)
	if err != nil {
		return nil, err
	}
	return collectIntakes(rows)
}

func (s *intakeStorePG) Find(ctx context.Context, f IntakeFilter) ([]*Intake, error) {
	where := []string{}
	args := []interface{}{}
	add := func(col, val string) {
		if val != "" {
			args = append(args, val)
			where = append(where, fmt.Sprintf("i.%s = $%d", col, len(args)))
		}
	}
	add("first_name", f.FirstName)
	add("last_name", f.LastName)
	add("birthday", f.Birthday)
	add("zip_code", f.ZipCode)
	add("policy_id", f.PolicyID)
	add("registry_patient_id", f.RegistryPatientID)
	q := `SELECT ` + intakeCols + intakeFrom
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY r.created_at, r.id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectIntakes(rows)
}

func (s *intakeStorePG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	return casStatus(ctx, s.pool, id, from, to)
}

func (s *intakeStorePG) LockAll(ctx context.Context, ids []uuid.UUID, from Status) error {
	return lockAll(ctx, s.pool, ids, from)
}

func lockAll(ctx context.Context, pool *pgxpool.Pool, ids []uuid.UUID, from Status) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, id := range ids {
		if err := casStatus(ctx, tx, id, from, StatusLocked); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *intakeStorePG) UpdatePayload(ctx context.Context, in *Intake) error {
	p := in.Payload
	tag, err := s.pool.Exec(ctx, `
		UPDATE intake_records SET first_name = $2, last_name = $3, birthday = $4, gender = $5,
			email = $6, phone_number = $7, sms_opt_in = $8, subscription_opt_in = $9,
			street_address_1 = $10, street_address_2 = $11, city = $12, state = $13,
			zip_code = $14, full_address = $15,
			policy_id = $16, policy_carrier = $17, test_quantity = $18,
			submission_id = $19, registry_patient_id = $20
		WHERE record_id = $1`,
		in.Record.ID, p.FirstName, p.LastName, p.Birthday, p.Gender,
		p.Email, p.PhoneNumber, p.SmsOptIn, p.SubscriptionOptIn,
		p.StreetAddress1, p.StreetAddress2, p.City, p.State, p.ZipCode, p.FullAddress,
		p.PolicyID, p.PolicyCarrier, p.TestQuantity, p.SubmissionID, p.RegistryPatientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *intakeStorePG) ListPolicySiblings(ctx context.Context, policyID string, excludeID uuid.UUID, ignore []Status) ([]*Intake, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intakeCols+intakeFrom+`
		WHERE i.policy_id = $1 AND r.id <> $2 AND NOT (r.status = ANY($3))
		ORDER BY r.created_at, r.id`,
		policyID, excludeID, statusStrings(ignore))
	if err != nil {
		return nil, err
	}
	return collectIntakes(rows)
}

func (s *intakeStorePG) ListDuplicateGroups(ctx context.Context, maxGroups int) ([]DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intakeCols+intakeFrom+`
		WHERE i.policy_id IN (
			SELECT i2.policy_id
			FROM records r2 JOIN intake_records i2 ON i2.record_id = r2.id
			WHERE r2.status = $1
			GROUP BY i2.policy_id
			ORDER BY min(r2.created_at)
			LIMIT $2
		) AND r.status = $1
		ORDER BY r.created_at, r.id`,
		StatusDuplicatePolicyID, maxGroups)
	if err != nil {
		return nil, err
	}
	intakes, err := collectIntakes(rows)
	if err != nil {
		return nil, err
	}
	var groups []DuplicateGroup
	index := make(map[string]int)
	for _, in := range intakes {
		pid := in.Payload.PolicyID
		i, ok := index[pid]
		if !ok {
			index[pid] = len(groups)
			groups = append(groups, DuplicateGroup{PolicyID: pid})
			i = len(groups) - 1
		}
		groups[i].Members = append(groups[i].Members, in)
	}
	return groups, nil
}

// =========== Order Store ===========

const orderCols = `r.id, r.universal_id, r.kind, r.status, r.practice_id, r.created_at, r.updated_at,
	o.order_number, o.claim_correlation_id, o.recipient_name,
	o.street_address_1, o.street_address_2, o.city, o.state, o.zip_code,
	o.quantity, o.routing, o.external_order_id`

const orderFrom = ` FROM records r JOIN shipping_orders o ON o.record_id = r.id`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.Record.ID, &o.Record.UniversalID, &o.Record.Kind, &o.Record.Status,
		&o.Record.PracticeID, &o.Record.CreatedAt, &o.Record.UpdatedAt,
		&o.Payload.OrderNumber, &o.Payload.ClaimCorrelationID, &o.Payload.RecipientName,
		&o.Payload.StreetAddress1, &o.Payload.StreetAddress2, &o.Payload.City,
		&o.Payload.State, &o.Payload.ZipCode,
		&o.Payload.Quantity, &o.Payload.Routing, &o.Payload.ExternalOrderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Payload.RecordID = o.Record.ID
	return &o, nil
}

type orderStorePG struct{ pool *pgxpool.Pool }

func NewOrderStorePG(pool *pgxpool.Pool) OrderStore { return &orderStorePG{pool: pool} }

func (s *orderStorePG) Create(ctx context.Context, o *Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o.Record.Kind = KindShippingOrder
	if err := insertRecord(ctx, tx, &o.Record); err != nil {
		return err
	}
	o.Payload.RecordID = o.Record.ID
	p := o.Payload
	_, err = tx.Exec(ctx, `
		INSERT INTO shipping_orders (record_id, order_number, claim_correlation_id, recipient_name,
			street_address_1, street_address_2, city, state, zip_code,
			quantity, routing, external_order_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.RecordID, p.OrderNumber, p.ClaimCorrelationID, p.RecipientName,
		p.StreetAddress1, p.StreetAddress2, p.City, p.State, p.ZipCode,
		p.Quantity, p.Routing, p.ExternalOrderID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *orderStorePG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+orderFrom+` WHERE r.id = $1`, id))
}

func (s *orderStorePG) GetByOrderNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+orderFrom+` WHERE o.order_number = $1`, orderNumber))
}

func (s *orderStorePG) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderCols+orderFrom+`
		WHERE r.status = ANY($1)
		ORDER BY r.created_at, r.id
		LIMIT $2`, statusStrings(statuses), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *orderStorePG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	return casStatus(ctx, s.pool, id, from, to)
}

func (s *orderStorePG) LockAll(ctx context.Context, ids []uuid.UUID, from Status) error {
	return lockAll(ctx, s.pool, ids, from)
}

func (s *orderStorePG) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shipping_orders SET external_order_id = $2 WHERE record_id = $1`, id, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Charge Store ===========

const chargeCols = `r.id, r.universal_id, r.kind, r.status, r.practice_id, r.created_at, r.updated_at,
	c.encounter_id, c.patient_external_id, c.claim_id, c.event_type,
	c.amount_cents, c.service_date, c.reported_at`

const chargeFrom = ` FROM records r JOIN billing_charges c ON c.record_id = r.id`

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.Record.ID, &c.Record.UniversalID, &c.Record.Kind, &c.Record.Status,
		&c.Record.PracticeID, &c.Record.CreatedAt, &c.Record.UpdatedAt,
		&c.Payload.EncounterID, &c.Payload.PatientExternalID, &c.Payload.ClaimID,
		&c.Payload.EventType, &c.Payload.AmountCents, &c.Payload.ServiceDate, &c.Payload.ReportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Payload.RecordID = c.Record.ID
	return &c, nil
}

type chargeStorePG struct{ pool *pgxpool.Pool }

func NewChargeStorePG(pool *pgxpool.Pool) ChargeStore { return &chargeStorePG{pool: pool} }

func (s *chargeStorePG) Upsert(ctx context.Context, c *Charge) (bool, error) {
	existing, err := s.GetByEncounterID(ctx, c.Payload.EncounterID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if existing != nil {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return false, err
		}
		defer tx.Rollback(ctx)

		p := c.Payload
		_, err = tx.Exec(ctx, `
			UPDATE billing_charges SET patient_external_id = $2, claim_id = $3, event_type = $4,
				amount_cents = $5, service_date = $6, reported_at = $7
			WHERE encounter_id = $1`,
			p.EncounterID, p.PatientExternalID, p.ClaimID, p.EventType,
			p.AmountCents, p.ServiceDate, p.ReportedAt)
		if err != nil {
			return false, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE records SET status = $2, updated_at = now() WHERE id = $1`,
			existing.Record.ID, c.Record.Status)
		if err != nil {
			return false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return false, err
		}
		status := c.Record.Status
		c.Record = existing.Record
		c.Record.Status = status
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	c.Record.Kind = KindBillingCharge
	if err := insertRecord(ctx, tx, &c.Record); err != nil {
		return false, err
	}
	c.Payload.RecordID = c.Record.ID
	p := c.Payload
	_, err = tx.Exec(ctx, `
		INSERT INTO billing_charges (record_id, encounter_id, patient_external_id, claim_id,
			event_type, amount_cents, service_date, reported_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.RecordID, p.EncounterID, p.PatientExternalID, p.ClaimID,
		p.EventType, p.AmountCents, p.ServiceDate, p.ReportedAt)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *chargeStorePG) GetByEncounterID(ctx context.Context, encounterID string) (*Charge, error) {
	return scanCharge(s.pool.QueryRow(ctx, `SELECT `+chargeCols+chargeFrom+` WHERE c.encounter_id = $1`, encounterID))
}

func (s *chargeStorePG) MostRecentReportTime(ctx context.Context, practiceID string) (time.Time, error) {
	q := `SELECT coalesce(max(c.reported_at), 'epoch'::timestamptz)` + chargeFrom
	args := []interface{}{}
	if practiceID != "" {
		q += ` WHERE r.practice_id = $1`
		args = append(args, practiceID)
	}
	var t time.Time
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&t); err != nil {
		return time.Time{}, err
	}
	if t.Unix() <= 0 {
		return time.Time{}, nil
	}
	return t, nil
}
