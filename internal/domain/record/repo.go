package record

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict indicates a compare-and-set status update found the
	// record in a different status than expected — another worker claimed it
	// first.
	ErrStatusConflict = errors.New("record status conflict")
)

// IntakeFilter narrows intake lookups; zero-valued fields are ignored.
type IntakeFilter struct {
	FirstName         string
	LastName          string
	Birthday          string
	ZipCode           string
	PolicyID          string
	RegistryPatientID string
}

// IntakeStore persists intake records. List methods return results in
// creation order (created_at, id) so duplicate-group tie-breaks stay
// deterministic.
type IntakeStore interface {
	Create(ctx context.Context, in *Intake) error
	GetByID(ctx context.Context, id uuid.UUID) (*Intake, error)
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Intake, error)
	Find(ctx context.Context, f IntakeFilter) ([]*Intake, error)

	// UpdateStatus atomically moves id from one status to another; it returns
	// ErrStatusConflict if the record is no longer in the expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// LockAll moves every id from the given status to Locked in a single
	// transaction. Any conflict rolls back the whole phase.
	LockAll(ctx context.Context, ids []uuid.UUID, from Status) error

	// UpdatePayload rewrites the intake payload fields without touching the
	// base record's status.
	UpdatePayload(ctx context.Context, in *Intake) error

	// ListPolicySiblings returns other intakes sharing policyID, excluding
	// excludeID and any record whose status is in ignore.
	ListPolicySiblings(ctx context.Context, policyID string, excludeID uuid.UUID, ignore []Status) ([]*Intake, error)

	// ListDuplicateGroups returns up to maxGroups groups of intakes currently
	// tagged DuplicatePolicyID, grouped by policy id, members in creation
	// order.
	ListDuplicateGroups(ctx context.Context, maxGroups int) ([]DuplicateGroup, error)
}

// OrderStore persists shipping-order records.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	LockAll(ctx context.Context, ids []uuid.UUID, from Status) error

	// SetExternalID records the carrier's order id once the upload succeeds.
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error
}

// ChargeStore persists billing-charge shadow records.
type ChargeStore interface {
	// Upsert matches on the external encounter id: an existing charge is
	// updated in place, otherwise a new record is created. Returns true when
	// a new record was created.
	Upsert(ctx context.Context, c *Charge) (bool, error)
	GetByEncounterID(ctx context.Context, encounterID string) (*Charge, error)

	// MostRecentReportTime returns the latest ReportedAt across charges for
	// the practice, the incremental-poll cursor. The zero time means no
	// charges exist yet.
	MostRecentReportTime(ctx context.Context, practiceID string) (time.Time, error)
}
