package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a thread-safe, in-memory implementation of IntakeStore,
// OrderStore, and ChargeStore. It backs the domain tests and enforces the
// same compare-and-set semantics as the Postgres store, so double-claim
// races surface as ErrStatusConflict in tests too.
type MemStore struct {
	mu      sync.Mutex
	intakes map[uuid.UUID]*Intake
	orders  map[uuid.UUID]*Order
	charges map[uuid.UUID]*Charge
	seq     int64
	seqOf   map[uuid.UUID]int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		intakes: make(map[uuid.UUID]*Intake),
		orders:  make(map[uuid.UUID]*Order),
		charges: make(map[uuid.UUID]*Charge),
		seqOf:   make(map[uuid.UUID]int64),
	}
}

func (s *MemStore) stamp(r *Record) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.UniversalID == uuid.Nil {
		r.UniversalID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	s.seq++
	s.seqOf[r.ID] = s.seq
}

// creation order, independent of clock resolution
func (s *MemStore) sortIntakes(list []*Intake) {
	sort.Slice(list, func(i, j int) bool {
		return s.seqOf[list[i].Record.ID] < s.seqOf[list[j].Record.ID]
	})
}

func copyIntake(in *Intake) *Intake {
	c := *in
	return &c
}

func copyOrder(o *Order) *Order {
	c := *o
	return &c
}

func copyCharge(c *Charge) *Charge {
	cc := *c
	return &cc
}

func statusIn(st Status, set []Status) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

// --- IntakeStore ---

func (s *MemStore) Create(_ context.Context, in *Intake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.Record.Kind = KindIntake
	s.stamp(&in.Record)
	in.Payload.RecordID = in.Record.ID
	s.intakes[in.Record.ID] = copyIntake(in)
	return nil
}

func (s *MemStore) GetByID(_ context.Context, id uuid.UUID) (*Intake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intakes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntake(in), nil
}

func (s *MemStore) ListByStatus(_ context.Context, statuses []Status, limit int) ([]*Intake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intake
	for _, in := range s.intakes {
		if statusIn(in.Record.Status, statuses) {
			out = append(out, copyIntake(in))
		}
	}
	s.sortIntakes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Find(_ context.Context, f IntakeFilter) ([]*Intake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intake
	for _, in := range s.intakes {
		p := in.Payload
		if f.FirstName != "" && p.FirstName != f.FirstName {
			continue
		}
		if f.LastName != "" && p.LastName != f.LastName {
			continue
		}
		if f.Birthday != "" && p.Birthday != f.Birthday {
			continue
		}
		if f.ZipCode != "" && p.ZipCode != f.ZipCode {
			continue
		}
		if f.PolicyID != "" && p.PolicyID != f.PolicyID {
			continue
		}
		if f.RegistryPatientID != "" && p.RegistryPatientID != f.RegistryPatientID {
			continue
		}
		out = append(out, copyIntake(in))
	}
	s.sortIntakes(out)
	return out, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casLocked(id, from, to)
}

func (s *MemStore) casLocked(id uuid.UUID, from, to Status) error {
	if in, ok := s.intakes[id]; ok {
		if in.Record.Status != from {
			return ErrStatusConflict
		}
		in.Record.Status = to
		in.Record.UpdatedAt = time.Now()
		return nil
	}
	if o, ok := s.orders[id]; ok {
		if o.Record.Status != from {
			return ErrStatusConflict
		}
		o.Record.Status = to
		o.Record.UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

func (s *MemStore) LockAll(_ context.Context, ids []uuid.UUID, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Dry-run first so a conflict rolls back the whole phase.
	for _, id := range ids {
		if in, ok := s.intakes[id]; ok {
			if in.Record.Status != from {
				return ErrStatusConflict
			}
			continue
		}
		if o, ok := s.orders[id]; ok {
			if o.Record.Status != from {
				return ErrStatusConflict
			}
			continue
		}
		return ErrNotFound
	}
	for _, id := range ids {
		_ = s.casLocked(id, from, StatusLocked)
	}
	return nil
}

func (s *MemStore) UpdatePayload(_ context.Context, in *Intake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.intakes[in.Record.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Payload = in.Payload
	cur.Payload.RecordID = in.Record.ID
	cur.Record.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) ListPolicySiblings(_ context.Context, policyID string, excludeID uuid.UUID, ignore []Status) ([]*Intake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intake
	for _, in := range s.intakes {
		if in.Record.ID == excludeID || in.Payload.PolicyID != policyID {
			continue
		}
		if statusIn(in.Record.Status, ignore) {
			continue
		}
		out = append(out, copyIntake(in))
	}
	s.sortIntakes(out)
	return out, nil
}

func (s *MemStore) ListDuplicateGroups(_ context.Context, maxGroups int) ([]DuplicateGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPolicy := make(map[string][]*Intake)
	for _, in := range s.intakes {
		if in.Record.Status == StatusDuplicatePolicyID {
			byPolicy[in.Payload.PolicyID] = append(byPolicy[in.Payload.PolicyID], copyIntake(in))
		}
	}
	var groups []DuplicateGroup
	for policyID, members := range byPolicy {
		s.sortIntakes(members)
		groups = append(groups, DuplicateGroup{PolicyID: policyID, Members: members})
	}
	// oldest group first
	sort.Slice(groups, func(i, j int) bool {
		return s.seqOf[groups[i].Members[0].Record.ID] < s.seqOf[groups[j].Members[0].Record.ID]
	})
	if maxGroups > 0 && len(groups) > maxGroups {
		groups = groups[:maxGroups]
	}
	return groups, nil
}

// --- OrderStore ---

func (s *MemStore) CreateOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Record.Kind = KindShippingOrder
	s.stamp(&o.Record)
	o.Payload.RecordID = o.Record.ID
	s.orders[o.Record.ID] = copyOrder(o)
	return nil
}

func (s *MemStore) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *MemStore) GetByOrderNumber(_ context.Context, orderNumber string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Payload.OrderNumber == orderNumber {
			return copyOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListOrdersByStatus(_ context.Context, statuses []Status, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if statusIn(o.Record.Status, statuses) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seqOf[out[i].Record.ID] < s.seqOf[out[j].Record.ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SetExternalID(_ context.Context, id uuid.UUID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Payload.ExternalOrderID = externalID
	o.Record.UpdatedAt = time.Now()
	return nil
}

// --- ChargeStore ---

func (s *MemStore) Upsert(_ context.Context, c *Charge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.charges {
		if existing.Payload.EncounterID == c.Payload.EncounterID {
			practice := existing.Record.PracticeID
			id := existing.Record.ID
			existing.Payload = c.Payload
			existing.Payload.RecordID = id
			existing.Record.Status = c.Record.Status
			existing.Record.UpdatedAt = time.Now()
			c.Record = existing.Record
			c.Record.PracticeID = practice
			return false, nil
		}
	}
	c.Record.Kind = KindBillingCharge
	s.stamp(&c.Record)
	c.Payload.RecordID = c.Record.ID
	s.charges[c.Record.ID] = copyCharge(c)
	return true, nil
}

func (s *MemStore) GetByEncounterID(_ context.Context, encounterID string) (*Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.charges {
		if c.Payload.EncounterID == encounterID {
			return copyCharge(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) MostRecentReportTime(_ context.Context, practiceID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, c := range s.charges {
		if practiceID != "" && c.Record.PracticeID != practiceID {
			continue
		}
		if c.Payload.ReportedAt.After(latest) {
			latest = c.Payload.ReportedAt
		}
	}
	return latest, nil
}

// memOrderStore adapts MemStore's order methods to the OrderStore interface
// without colliding with the intake method set.
type memOrderStore struct{ *MemStore }

// Orders returns an OrderStore view over the same underlying data.
func (s *MemStore) Orders() OrderStore { return memOrderStore{s} }

func (s memOrderStore) Create(ctx context.Context, o *Order) error { return s.CreateOrder(ctx, o) }

func (s memOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.GetOrderByID(ctx, id)
}

func (s memOrderStore) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Order, error) {
	return s.ListOrdersByStatus(ctx, statuses, limit)
}
