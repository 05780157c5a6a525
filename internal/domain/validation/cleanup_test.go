package validation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
)

var cleanupNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func runCleanup(t *testing.T, store *record.MemStore) {
	t.Helper()
	c := NewCleanup(func() record.IntakeStore { return store }, zerolog.Nop(), 100, 10)
	c.now = func() time.Time { return cleanupNow }
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("cleanup run: %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("cleanup failed %d groups", summary.Failed)
	}
}

func statusOf(t *testing.T, store *record.MemStore, in *record.Intake) record.Status {
	t.Helper()
	got, err := store.GetByID(context.Background(), in.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got.Record.Status
}

// dupMember seeds one DuplicatePolicyID member with a complete adult identity
// unless the caller mutates it.
func dupMember(t *testing.T, store *record.MemStore, mutate func(*record.IntakeRecord)) *record.Intake {
	t.Helper()
	p := record.IntakeRecord{
		FirstName:   "Ann",
		LastName:    "Lee",
		Birthday:    "1990-04-01",
		Gender:      "F",
		Email:       "ann@example.com",
		PhoneNumber: "+15550001111",
		ZipCode:     "62704",
		PolicyID:    "AB12345678",
	}
	if mutate != nil {
		mutate(&p)
	}
	return seedIntake(t, store, record.StatusDuplicatePolicyID, p)
}

func TestCleanup_FirstCompleteAdultWins(t *testing.T) {
	store := record.NewMemStore()
	first := dupMember(t, store, nil)
	second := dupMember(t, store, nil)

	runCleanup(t, store)

	if got := statusOf(t, store, first); got != record.StatusPendingValidation {
		t.Errorf("first member = %q, creation order decides the winner", got)
	}
	if got := statusOf(t, store, second); got != record.StatusDuplicatePolicyIDDiscarded {
		t.Errorf("second member = %q", got)
	}
}

func TestCleanup_EliminationCascade(t *testing.T) {
	store := record.NewMemStore()
	minor := dupMember(t, store, func(p *record.IntakeRecord) { p.Birthday = "2015-01-01" })
	badDate := dupMember(t, store, func(p *record.IntakeRecord) { p.Birthday = "???" })
	noZip := dupMember(t, store, func(p *record.IntakeRecord) { p.ZipCode = "" })
	incomplete := dupMember(t, store, func(p *record.IntakeRecord) { p.Email = "" })
	complete := dupMember(t, store, nil)

	runCleanup(t, store)

	for _, in := range []*record.Intake{minor, badDate, noZip, incomplete} {
		if got := statusOf(t, store, in); got != record.StatusDuplicatePolicyIDDiscarded {
			t.Errorf("eliminated member = %q", got)
		}
	}
	if got := statusOf(t, store, complete); got != record.StatusPendingValidation {
		t.Errorf("surviving member = %q", got)
	}
}

func TestCleanup_IncompleteSurvivorBeatsNone(t *testing.T) {
	// Two rivals, both incomplete: the completeness filter must not empty the
	// set, so the first incomplete member still wins.
	store := record.NewMemStore()
	first := dupMember(t, store, func(p *record.IntakeRecord) { p.Email = "" })
	second := dupMember(t, store, func(p *record.IntakeRecord) { p.PhoneNumber = "" })

	runCleanup(t, store)

	if got := statusOf(t, store, first); got != record.StatusPendingValidation {
		t.Errorf("first member = %q", got)
	}
	if got := statusOf(t, store, second); got != record.StatusDuplicatePolicyIDDiscarded {
		t.Errorf("second member = %q", got)
	}
}

func TestCleanup_LoneIncompleteMemberDiscarded(t *testing.T) {
	store := record.NewMemStore()
	lone := dupMember(t, store, func(p *record.IntakeRecord) { p.Email = "" })

	runCleanup(t, store)

	if got := statusOf(t, store, lone); got != record.StatusDuplicatePolicyIDDiscarded {
		t.Errorf("lone incomplete member = %q, want discarded", got)
	}
}

func TestCleanup_LoneCompleteMemberSurvives(t *testing.T) {
	store := record.NewMemStore()
	lone := dupMember(t, store, nil)

	runCleanup(t, store)

	if got := statusOf(t, store, lone); got != record.StatusPendingValidation {
		t.Errorf("lone complete member = %q", got)
	}
}

func TestCleanup_PassedSiblingDiscardsWholeGroup(t *testing.T) {
	store := record.NewMemStore()
	passed := validPayload()
	seedIntake(t, store, record.StatusSyncComplete, passed)
	a := dupMember(t, store, nil)
	b := dupMember(t, store, nil)

	runCleanup(t, store)

	for _, in := range []*record.Intake{a, b} {
		if got := statusOf(t, store, in); got != record.StatusDuplicatePolicyIDDiscarded {
			t.Errorf("member = %q, passed sibling outranks the group", got)
		}
	}
}

func TestCleanup_GenericGroupSubGroupsByName(t *testing.T) {
	store := record.NewMemStore()
	ann1 := dupMember(t, store, func(p *record.IntakeRecord) { p.PolicyID = "12345678" })
	ann2 := dupMember(t, store, func(p *record.IntakeRecord) { p.PolicyID = "12345678" })
	bob := dupMember(t, store, func(p *record.IntakeRecord) {
		p.PolicyID = "12345678"
		p.FirstName = "Bob"
		p.LastName = "Roe"
	})

	runCleanup(t, store)

	if got := statusOf(t, store, ann1); got != record.StatusRequiresDiscovery {
		t.Errorf("first Ann = %q, want requeued through discovery", got)
	}
	if got := statusOf(t, store, ann2); got != record.StatusDuplicatePolicyIDDiscarded {
		t.Errorf("second Ann = %q", got)
	}
	if got := statusOf(t, store, bob); got != record.StatusRequiresDiscovery {
		t.Errorf("Bob = %q, each person gets one discovery shot", got)
	}
}

func TestCleanup_Converges(t *testing.T) {
	store := record.NewMemStore()
	dupMember(t, store, nil)
	dupMember(t, store, nil)

	runCleanup(t, store)

	// Second run sees no DuplicatePolicyID records and changes nothing.
	groups, err := store.ListDuplicateGroups(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Fatalf("groups after cleanup = %d, want 0", len(groups))
	}
	runCleanup(t, store)
}
