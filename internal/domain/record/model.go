package record

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the typed payload attached to a base record.
type Kind string

const (
	KindIntake        Kind = "intake"
	KindShippingOrder Kind = "shipping_order"
	KindBillingCharge Kind = "billing_charge"
)

// Status is the single source of truth for a record's workflow position.
// No other field may be inspected to infer workflow stage.
type Status string

const (
	StatusPendingCleansing  Status = "pending_cleansing"
	StatusPendingValidation Status = "pending_validation"

	// StatusLocked is the advisory mutex: a stage claims its candidate set by
	// moving every member to Locked in the same transaction that selected it.
	// Never a stable rest state.
	StatusLocked Status = "locked"

	StatusReadyForSync Status = "ready_for_sync"
	StatusSyncComplete Status = "sync_complete"
	StatusFailedSync   Status = "failed_sync"

	StatusRequiresDiscovery          Status = "requires_discovery"
	StatusRequiresDiscoveryDiscarded Status = "requires_discovery_discarded"

	StatusDuplicatePolicyID          Status = "duplicate_policy_id"
	StatusDuplicatePolicyIDDiscarded Status = "duplicate_policy_id_discarded"
	StatusDuplicateDemographics      Status = "duplicate_birthdate_zip_first_last"

	StatusInvalidAddress        Status = "invalid_address"
	StatusInvalidName           Status = "invalid_name"
	StatusInvalidBirthday       Status = "invalid_birthday"
	StatusInvalidBirthdayFormat Status = "invalid_birthday_format"

	StatusUnshippableAddress          Status = "unshippable_address"
	StatusUnshippableAddressContacted Status = "unshippable_address_contacted"

	StatusOrderCreated  Status = "order_created"
	StatusOrderUploaded Status = "order_uploaded"
	StatusOrderFailed   Status = "order_failed"

	// Billing-charge shadow records carry their latest reported event as
	// the base-record status.
	StatusChargeSubmitted Status = "charge_submitted"
	StatusChargeDenied    Status = "charge_denied"
	StatusChargePaid      Status = "charge_paid"
)

var terminalStatuses = map[Status]bool{
	StatusSyncComplete:                true,
	StatusFailedSync:                  true,
	StatusRequiresDiscoveryDiscarded:  true,
	StatusDuplicatePolicyIDDiscarded:  true,
	StatusDuplicateDemographics:       true,
	StatusInvalidAddress:              true,
	StatusInvalidName:                 true,
	StatusInvalidBirthday:             true,
	StatusInvalidBirthdayFormat:       true,
	StatusUnshippableAddressContacted: true,
	StatusOrderUploaded:               true,
	StatusOrderFailed:                 true,
}

// IsTerminal reports whether s is a rest point the pipeline never leaves
// automatically; re-queueing requires operator intervention.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

// PassedValidation reports whether s means the record already cleared the
// validation engine. A policy-id sibling in one of these states makes every
// later submission with the same policy id an extra.
func (s Status) PassedValidation() bool {
	return s == StatusReadyForSync || s == StatusSyncComplete || s == StatusFailedSync
}

// DiscardedStatuses are the resolutions that take a record out of every
// duplicate-sibling and duplicate-group computation.
var DiscardedStatuses = []Status{
	StatusDuplicatePolicyIDDiscarded,
	StatusRequiresDiscoveryDiscarded,
	StatusDuplicateDemographics,
	StatusInvalidAddress,
	StatusInvalidName,
	StatusInvalidBirthday,
	StatusInvalidBirthdayFormat,
}

// SiblingIgnoredStatuses is what a duplicate-sibling query skips: the
// discarded resolutions plus the resting states that already left the
// duplicate computation (parked in discovery, or waiting on the member for
// a shippable address). Without these, a cleanup survivor promoted to
// requires_discovery would drag every later submission with its policy id
// back into duplicate_policy_id.
var SiblingIgnoredStatuses = append(
	[]Status{StatusRequiresDiscovery, StatusUnshippableAddressContacted},
	DiscardedStatuses...)

// OutOfDuplicateChecks is the per-record form of SiblingIgnoredStatuses.
func (s Status) OutOfDuplicateChecks() bool {
	for _, ig := range SiblingIgnoredStatuses {
		if s == ig {
			return true
		}
	}
	return false
}

// Record is the base row every payload kind shares. Created once, never
// deleted; only Status advances.
type Record struct {
	ID          uuid.UUID `json:"id"`
	UniversalID uuid.UUID `json:"universal_id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	PracticeID  string    `json:"practice_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IntakeRecord is the typed payload for Kind == KindIntake. Birthday stays
// free text until the validation engine parses it.
type IntakeRecord struct {
	RecordID uuid.UUID `json:"record_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Birthday  string `json:"birthday"`
	Gender    string `json:"gender"`

	Email             string `json:"email"`
	PhoneNumber       string `json:"phone_number"`
	SmsOptIn          bool   `json:"sms_opt_in"`
	SubscriptionOptIn bool   `json:"subscription_opt_in"`

	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`
	FullAddress    string `json:"full_address,omitempty"`

	PolicyID      string `json:"policy_id"`
	PolicyCarrier string `json:"policy_carrier"`
	TestQuantity  int    `json:"test_quantity"`
	SubmissionID  string `json:"submission_id"`

	// RegistryPatientID is the external registry correlation id, set by the
	// sync stage.
	RegistryPatientID string `json:"registry_patient_id,omitempty"`
}

// ShippingOrder is the typed payload for Kind == KindShippingOrder. The
// order number is derived from the billing claim id, which makes creation
// idempotent by construction.
type ShippingOrder struct {
	RecordID uuid.UUID `json:"record_id"`

	OrderNumber        string `json:"order_number"`
	ClaimCorrelationID string `json:"claim_correlation_id"`

	RecipientName  string `json:"recipient_name"`
	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`

	Quantity        int    `json:"quantity"`
	Routing         string `json:"routing"` // RoutingInHouse or RoutingThirdParty
	ExternalOrderID string `json:"external_order_id,omitempty"`
}

const (
	RoutingInHouse    = "in_house"
	RoutingThirdParty = "third_party"
)

// BillingCharge is the typed payload for Kind == KindBillingCharge. It
// mirrors a submission or denial event reported by the external billing
// system, keyed by that system's encounter id.
type BillingCharge struct {
	RecordID uuid.UUID `json:"record_id"`

	EncounterID       string    `json:"encounter_id"`
	PatientExternalID string    `json:"patient_external_id"`
	ClaimID           string    `json:"claim_id"`
	EventType         string    `json:"event_type"` // ChargeSubmitted, ChargeDenied or ChargePaid
	AmountCents       int64     `json:"amount_cents"`
	ServiceDate       time.Time `json:"service_date"`
	ReportedAt        time.Time `json:"reported_at"`
}

const (
	ChargeSubmitted = "submitted"
	ChargeDenied    = "denied"
	ChargePaid      = "paid"
)

// Intake bundles a base record with its intake payload; the unit every
// intake-side stage operates on.
type Intake struct {
	Record  Record       `json:"record"`
	Payload IntakeRecord `json:"payload"`
}

// Order bundles a base record with its shipping-order payload.
type Order struct {
	Record  Record        `json:"record"`
	Payload ShippingOrder `json:"payload"`
}

// Charge bundles a base record with its billing-charge payload.
type Charge struct {
	Record  Record        `json:"record"`
	Payload BillingCharge `json:"payload"`
}

// DuplicateGroup is a set of intakes sharing one policy id, in creation
// order, awaiting cleanup.
type DuplicateGroup struct {
	PolicyID string
	Members  []*Intake
}
