package fulfillment

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
)

type mockVerifier struct {
	result *addrverify.Result
	err    error
}

func (m *mockVerifier) Verify(context.Context, addrverify.Query) (*addrverify.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &addrverify.Result{Deliverable: true}, nil
}

var testRules = RoutingRules{
	UnitsPerClaimUnit:  2,
	InHouseMaxQuantity: 4,
	LowVolumeStates:    []string{"AK", "HI"},
}

func seedSynced(t *testing.T, store *record.MemStore, patientID string) *record.Intake {
	t.Helper()
	in := &record.Intake{
		Record: record.Record{Kind: record.KindIntake, Status: record.StatusSyncComplete, PracticeID: "p1"},
		Payload: record.IntakeRecord{
			FirstName:         "Ann",
			LastName:          "Lee",
			StreetAddress1:    "12 Oak St",
			City:              "Springfield",
			State:             "IL",
			ZipCode:           "62704",
			RegistryPatientID: patientID,
		},
	}
	if err := store.Create(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	return in
}

func TestRoute(t *testing.T) {
	cases := []struct {
		quantity int
		state    string
		want     string
	}{
		{4, "IL", record.RoutingInHouse},
		{5, "IL", record.RoutingThirdParty},
		{5, "AK", record.RoutingInHouse},
		{5, "hi", record.RoutingInHouse},
	}
	for _, tc := range cases {
		if got := testRules.Route(tc.quantity, tc.state); got != tc.want {
			t.Errorf("Route(%d, %q) = %q, want %q", tc.quantity, tc.state, got, tc.want)
		}
	}
}

func TestCreateForClaim(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "pat-1")
	c := NewCreator(store, store.Orders(), &mockVerifier{}, testRules, zerolog.Nop())

	o, err := c.CreateForClaim(context.Background(), PaidClaim{
		ClaimID:           "claim-77",
		PatientExternalID: "pat-1",
		Units:             3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.Payload.OrderNumber != "KF-claim-77" {
		t.Errorf("order number = %q", o.Payload.OrderNumber)
	}
	if o.Payload.Quantity != 6 {
		t.Errorf("quantity = %d, want claim units times per-unit factor", o.Payload.Quantity)
	}
	if o.Payload.Routing != record.RoutingThirdParty {
		t.Errorf("routing = %q", o.Payload.Routing)
	}
	if o.Payload.RecipientName != "Ann Lee" {
		t.Errorf("recipient = %q", o.Payload.RecipientName)
	}
	if o.Record.Status != record.StatusOrderCreated {
		t.Errorf("status = %q", o.Record.Status)
	}

	got, err := store.Orders().GetByOrderNumber(context.Background(), "KF-claim-77")
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if got.Record.PracticeID != "p1" {
		t.Errorf("practice = %q, want inherited from intake", got.Record.PracticeID)
	}
}

func TestCreateForClaim_DuplicateFailsLoud(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "pat-1")
	c := NewCreator(store, store.Orders(), &mockVerifier{}, testRules, zerolog.Nop())

	claim := PaidClaim{ClaimID: "claim-77", PatientExternalID: "pat-1", Units: 1}
	if _, err := c.CreateForClaim(context.Background(), claim); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateForClaim(context.Background(), claim); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("second create = %v, want ErrDuplicateOrder", err)
	}
}

func TestCreateForClaim_NoIntakeOnFile(t *testing.T) {
	store := record.NewMemStore()
	c := NewCreator(store, store.Orders(), &mockVerifier{}, testRules, zerolog.Nop())

	if _, err := c.CreateForClaim(context.Background(), PaidClaim{
		ClaimID: "claim-1", PatientExternalID: "pat-unknown", Units: 1,
	}); err == nil {
		t.Fatal("expected error for unknown patient")
	}
}

func TestCreateForClaim_ReverifiedAddressUsed(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "pat-1")
	v := &mockVerifier{result: &addrverify.Result{
		PrimaryLine: "12 OAK ST",
		City:        "SPRINGFIELD",
		ZipCode:     "62704-1234",
	}}
	c := NewCreator(store, store.Orders(), v, testRules, zerolog.Nop())

	o, err := c.CreateForClaim(context.Background(), PaidClaim{ClaimID: "c1", PatientExternalID: "pat-1", Units: 1})
	if err != nil {
		t.Fatal(err)
	}
	if o.Payload.StreetAddress1 != "12 OAK ST" {
		t.Errorf("street = %q", o.Payload.StreetAddress1)
	}
	// Empty response parts fall back to the address on file.
	if o.Payload.State != "IL" {
		t.Errorf("state = %q, want on-file fallback", o.Payload.State)
	}
	if o.Payload.ZipCode != "62704-1234" {
		t.Errorf("zip = %q", o.Payload.ZipCode)
	}
}

func TestCreateForClaim_VerifierOutageShipsToAddressOnFile(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "pat-1")
	c := NewCreator(store, store.Orders(), &mockVerifier{err: errors.New("down")}, testRules, zerolog.Nop())

	o, err := c.CreateForClaim(context.Background(), PaidClaim{ClaimID: "c1", PatientExternalID: "pat-1", Units: 1})
	if err != nil {
		t.Fatal(err)
	}
	if o.Payload.StreetAddress1 != "12 Oak St" || o.Payload.ZipCode != "62704" {
		t.Errorf("address = %q %q, want address on file", o.Payload.StreetAddress1, o.Payload.ZipCode)
	}
}
