package intake

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
	calls  []addrverify.Query
}

func (m *mockVerifier) Verify(_ context.Context, q addrverify.Query) (*addrverify.Result, error) {
	m.calls = append(m.calls, q)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func seedPendingCleansing(t *testing.T, store *record.MemStore, payload record.IntakeRecord) *record.Intake {
	t.Helper()
	in := &record.Intake{
		Record: record.Record{
			Kind:       record.KindIntake,
			Status:     record.StatusPendingCleansing,
			PracticeID: "p1",
		},
		Payload: payload,
	}
	if err := store.Create(context.Background(), in); err != nil {
		t.Fatalf("seed intake: %v", err)
	}
	return in
}

func runCleanser(t *testing.T, store *record.MemStore, v addrverify.Verifier) {
	t.Helper()
	c := NewCleanser(func() CleanserDeps {
		return CleanserDeps{Store: store, Verifier: v}
	}, zerolog.Nop(), 100, 10)
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("cleanser run: %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("cleanser run failed %d records", summary.Failed)
	}
}

func TestCleanse_NormalizesFields(t *testing.T) {
	store := record.NewMemStore()
	in := seedPendingCleansing(t, store, record.IntakeRecord{
		FirstName:     "  José ",
		LastName:      " Müller\t",
		Birthday:      " 1990-01-02 ",
		PolicyID:      " AB 123\t456 ",
		PolicyCarrier: "  Acme Health ",
		ZipCode:       " 12345 ",
	})

	runCleanser(t, store, &mockVerifier{err: errors.New("down")})

	got, err := store.GetByID(context.Background(), in.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.FirstName != "Jose" {
		t.Errorf("first name = %q, want Jose", got.Payload.FirstName)
	}
	if got.Payload.LastName != "Muller" {
		t.Errorf("last name = %q, want Muller", got.Payload.LastName)
	}
	if got.Payload.PolicyID != "AB123456" {
		t.Errorf("policy id = %q, want AB123456", got.Payload.PolicyID)
	}
	if got.Payload.PolicyCarrier != "Acme Health" {
		t.Errorf("policy carrier = %q", got.Payload.PolicyCarrier)
	}
	if got.Record.Status != record.StatusPendingValidation {
		t.Errorf("status = %q, want %q", got.Record.Status, record.StatusPendingValidation)
	}
}

func TestCleanse_VerifierFailureKeepsSubmittedAddress(t *testing.T) {
	store := record.NewMemStore()
	in := seedPendingCleansing(t, store, record.IntakeRecord{
		FirstName:      "Ann",
		LastName:       "Lee",
		StreetAddress1: "12 Oak St",
		City:           "Springfield",
		State:          "IL",
		ZipCode:        "123",
	})

	runCleanser(t, store, &mockVerifier{err: errors.New("verification service unavailable")})

	got, _ := store.GetByID(context.Background(), in.Record.ID)
	if got.Payload.StreetAddress1 != "12 Oak St" {
		t.Errorf("street = %q, want submitted value", got.Payload.StreetAddress1)
	}
	// No padding either: the short zip stays exactly as submitted.
	if got.Payload.ZipCode != "123" {
		t.Errorf("zip = %q, want 123 untouched", got.Payload.ZipCode)
	}
	if got.Record.Status != record.StatusPendingValidation {
		t.Errorf("status = %q, verifier outage must not block cleansing", got.Record.Status)
	}
}

func TestCleanse_VerifierResultOverwritesAndPadsZip(t *testing.T) {
	store := record.NewMemStore()
	in := seedPendingCleansing(t, store, record.IntakeRecord{
		FirstName:      "Ann",
		LastName:       "Lee",
		StreetAddress1: "12 oak street",
		City:           "springfield",
		State:          "il",
		ZipCode:        "99999",
	})

	v := &mockVerifier{result: &addrverify.Result{
		PrimaryLine: "12 OAK ST",
		City:        "SPRINGFIELD",
		State:       "IL",
		ZipCode:     "123",
	}}
	runCleanser(t, store, v)

	got, _ := store.GetByID(context.Background(), in.Record.ID)
	if got.Payload.StreetAddress1 != "12 OAK ST" {
		t.Errorf("street = %q, want standardized line", got.Payload.StreetAddress1)
	}
	if got.Payload.ZipCode != "00123" {
		t.Errorf("zip = %q, want 00123", got.Payload.ZipCode)
	}
}

func TestCleanse_EmptyResultFieldsKeepSubmittedParts(t *testing.T) {
	store := record.NewMemStore()
	in := seedPendingCleansing(t, store, record.IntakeRecord{
		FirstName:      "Ann",
		LastName:       "Lee",
		StreetAddress1: "12 Oak St",
		StreetAddress2: "Apt 4",
		City:           "Springfield",
		State:          "IL",
		ZipCode:        "62704",
	})

	v := &mockVerifier{result: &addrverify.Result{City: "SPRINGFIELD"}}
	runCleanser(t, store, v)

	got, _ := store.GetByID(context.Background(), in.Record.ID)
	if got.Payload.StreetAddress2 != "Apt 4" {
		t.Errorf("street 2 = %q, empty result part must not clobber", got.Payload.StreetAddress2)
	}
	if got.Payload.City != "SPRINGFIELD" {
		t.Errorf("city = %q, non-empty result part must win", got.Payload.City)
	}
}

func TestCleanse_FullAddressQueryPreferred(t *testing.T) {
	store := record.NewMemStore()
	seedPendingCleansing(t, store, record.IntakeRecord{
		FirstName:      "Ann",
		LastName:       "Lee",
		StreetAddress1: "12 Oak St",
		FullAddress:    "12 Oak St, Springfield IL 62704",
	})

	v := &mockVerifier{result: &addrverify.Result{}}
	runCleanser(t, store, v)

	if len(v.calls) != 1 {
		t.Fatalf("verifier calls = %d, want 1", len(v.calls))
	}
	q := v.calls[0]
	if q.FullAddress == "" || q.StreetAddress1 != "" {
		t.Errorf("query = %+v, want full-address form only", q)
	}
}

func TestPadZip(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"123":    "00123",
		"00123":  "00123",
		"123456": "123456",
	}
	for in, want := range cases {
		if got := padZip(in); got != want {
			t.Errorf("padZip(%q) = %q, want %q", in, got, want)
		}
	}
}
