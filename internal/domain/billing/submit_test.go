package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/clearinghouse"
)

type mockClearinghouse struct {
	submitted [][]clearinghouse.ClaimModel
	submitErr error

	events   []clearinghouse.ChargeEvent
	queryErr error
	sinces   []time.Time
}

func (m *mockClearinghouse) SubmitClaims(_ context.Context, claims []clearinghouse.ClaimModel) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, claims)
	return nil
}

func (m *mockClearinghouse) QueryEventsSince(_ context.Context, since time.Time) ([]clearinghouse.ChargeEvent, error) {
	m.sinces = append(m.sinces, since)
	return m.events, m.queryErr
}

func seedSynced(t *testing.T, store *record.MemStore, patientID string, qty int) *record.Intake {
	t.Helper()
	in := &record.Intake{
		Record: record.Record{Kind: record.KindIntake, Status: record.StatusSyncComplete, PracticeID: "p1"},
		Payload: record.IntakeRecord{
			FirstName:         "Ann",
			LastName:          "Lee",
			PolicyID:          "AB12345678",
			PolicyCarrier:     "Acme Health",
			TestQuantity:      qty,
			RegistryPatientID: patientID,
		},
	}
	if err := store.Create(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	return in
}

func TestSubmit_OneClaimPerSyncedIntake(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "pat-1", 2)
	seedSynced(t, store, "pat-2", 5)

	ch := &mockClearinghouse{}
	s := NewSubmitter(store, ch, zerolog.Nop(), 100)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }

	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("submitted = %d", n)
	}
	if len(ch.submitted) != 1 {
		t.Fatalf("submit calls = %d, want one batch", len(ch.submitted))
	}
	claims := ch.submitted[0]
	if claims[0].PatientExternalID != "pat-1" || claims[0].Units != 2 {
		t.Errorf("claim 0 = %+v", claims[0])
	}
	if claims[1].PolicyID != "AB12345678" || claims[1].PolicyCarrier != "Acme Health" {
		t.Errorf("claim 1 = %+v", claims[1])
	}
	if !claims[0].ServiceDate.Equal(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("service date = %v", claims[0].ServiceDate)
	}
}

func TestSubmit_SkipsIntakeWithoutRegistryPatient(t *testing.T) {
	store := record.NewMemStore()
	seedSynced(t, store, "", 1)
	seedSynced(t, store, "pat-2", 1)

	ch := &mockClearinghouse{}
	n, err := NewSubmitter(store, ch, zerolog.Nop(), 100).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("submitted = %d, want the resolvable intake only", n)
	}
}

func TestSubmit_NothingToSubmit(t *testing.T) {
	ch := &mockClearinghouse{submitErr: errors.New("must not be called")}
	n, err := NewSubmitter(record.NewMemStore(), ch, zerolog.Nop(), 100).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("submitted = %d", n)
	}
}

func TestSubmit_ClearinghouseErrorPropagates(t *testing.T) {
	store := record.NewMemStore()
	in := seedSynced(t, store, "pat-1", 1)

	ch := &mockClearinghouse{submitErr: errors.New("clearinghouse down")}
	if _, err := NewSubmitter(store, ch, zerolog.Nop(), 100).Run(context.Background()); err == nil {
		t.Fatal("expected submission error")
	}
	// Fire-and-forget never mutates the intake either way.
	got, _ := store.GetByID(context.Background(), in.Record.ID)
	if got.Record.Status != record.StatusSyncComplete {
		t.Errorf("status = %q", got.Record.Status)
	}
}
