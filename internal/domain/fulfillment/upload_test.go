package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/carrier"
)

type mockCarrier struct {
	batches [][]carrier.OrderModel
	// failBatch: 0-based index of the batch that errors at transport level.
	failBatch int
	// reject marks order numbers the carrier turns down.
	reject map[string]bool
	// omit marks order numbers the carrier silently drops from its response.
	omit map[string]bool
}

func newMockCarrier() *mockCarrier {
	return &mockCarrier{failBatch: -1, reject: map[string]bool{}, omit: map[string]bool{}}
}

func (m *mockCarrier) CreateOrders(_ context.Context, orders []carrier.OrderModel) ([]carrier.OrderResult, error) {
	idx := len(m.batches)
	m.batches = append(m.batches, orders)
	if idx == m.failBatch {
		return nil, errors.New("carrier unreachable")
	}
	var out []carrier.OrderResult
	for _, o := range orders {
		if m.omit[o.OrderNumber] {
			continue
		}
		if m.reject[o.OrderNumber] {
			out = append(out, carrier.OrderResult{OrderNumber: o.OrderNumber, Success: false, ErrorMessage: "bad address"})
			continue
		}
		out = append(out, carrier.OrderResult{OrderNumber: o.OrderNumber, Success: true, OrderID: "ext-" + o.OrderNumber})
	}
	return out, nil
}

func seedOrders(t *testing.T, store *record.MemStore, n int) []*record.Order {
	t.Helper()
	out := make([]*record.Order, n)
	for i := range out {
		o := &record.Order{
			Record: record.Record{Kind: record.KindShippingOrder, Status: record.StatusOrderCreated, PracticeID: "p1"},
			Payload: record.ShippingOrder{
				OrderNumber:   fmt.Sprintf("KF-claim-%d", i),
				RecipientName: "Ann Lee",
				Quantity:      2,
				Routing:       record.RoutingInHouse,
			},
		}
		if err := store.CreateOrder(context.Background(), o); err != nil {
			t.Fatal(err)
		}
		out[i] = o
	}
	return out
}

func orderStatus(t *testing.T, store *record.MemStore, o *record.Order) record.Status {
	t.Helper()
	got, err := store.GetOrderByID(context.Background(), o.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got.Record.Status
}

func TestUpload_BatchesAndMarksUploaded(t *testing.T) {
	store := record.NewMemStore()
	orders := seedOrders(t, store, 7)
	mc := newMockCarrier()

	u := NewUploader(UploaderDeps{Orders: store.Orders(), Carrier: mc}, zerolog.Nop(), 100, 3)
	sum, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Fetched != 7 || sum.Succeeded != 7 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(mc.batches) != 3 {
		t.Fatalf("batches = %d, want 3 of size <=3", len(mc.batches))
	}
	if len(mc.batches[0]) != 3 || len(mc.batches[2]) != 1 {
		t.Errorf("batch sizes = %d,%d,%d", len(mc.batches[0]), len(mc.batches[1]), len(mc.batches[2]))
	}

	for _, o := range orders {
		if got := orderStatus(t, store, o); got != record.StatusOrderUploaded {
			t.Errorf("order %s = %q", o.Payload.OrderNumber, got)
		}
	}
	got, _ := store.GetOrderByID(context.Background(), orders[0].Record.ID)
	if got.Payload.ExternalOrderID != "ext-KF-claim-0" {
		t.Errorf("external id = %q", got.Payload.ExternalOrderID)
	}
}

func TestUpload_TransportFailureLeavesBatchLocked(t *testing.T) {
	store := record.NewMemStore()
	orders := seedOrders(t, store, 6)
	mc := newMockCarrier()
	mc.failBatch = 0

	u := NewUploader(UploaderDeps{Orders: store.Orders(), Carrier: mc}, zerolog.Nop(), 100, 3)
	sum, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 3 || sum.Failed != 3 {
		t.Fatalf("summary = %+v", sum)
	}

	// First batch stays Locked for manual follow-up; the run continues to
	// the second batch.
	for _, o := range orders[:3] {
		if got := orderStatus(t, store, o); got != record.StatusLocked {
			t.Errorf("order %s = %q, want locked", o.Payload.OrderNumber, got)
		}
	}
	for _, o := range orders[3:] {
		if got := orderStatus(t, store, o); got != record.StatusOrderUploaded {
			t.Errorf("order %s = %q", o.Payload.OrderNumber, got)
		}
	}
}

func TestUpload_RejectedOrderMarkedFailed(t *testing.T) {
	store := record.NewMemStore()
	orders := seedOrders(t, store, 2)
	mc := newMockCarrier()
	mc.reject[orders[1].Payload.OrderNumber] = true

	u := NewUploader(UploaderDeps{Orders: store.Orders(), Carrier: mc}, zerolog.Nop(), 100, 10)
	sum, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := orderStatus(t, store, orders[1]); got != record.StatusOrderFailed {
		t.Errorf("rejected order = %q", got)
	}
}

func TestUpload_MissingResultLeavesRecordLocked(t *testing.T) {
	store := record.NewMemStore()
	orders := seedOrders(t, store, 2)
	mc := newMockCarrier()
	mc.omit[orders[0].Payload.OrderNumber] = true

	u := NewUploader(UploaderDeps{Orders: store.Orders(), Carrier: mc}, zerolog.Nop(), 100, 10)
	sum, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := orderStatus(t, store, orders[0]); got != record.StatusLocked {
		t.Errorf("dropped order = %q, want locked", got)
	}
}

func TestUpload_NothingToDo(t *testing.T) {
	store := record.NewMemStore()
	mc := newMockCarrier()
	u := NewUploader(UploaderDeps{Orders: store.Orders(), Carrier: mc}, zerolog.Nop(), 100, 10)
	sum, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Fetched != 0 || len(mc.batches) != 0 {
		t.Fatalf("summary = %+v, batches = %d", sum, len(mc.batches))
	}
}
