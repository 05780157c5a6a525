// Package fulfillment turns paid billing claims into shipping orders and
// uploads pending orders to the external carrier in fixed-size batches.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
)

// ErrDuplicateOrder means an order already exists for a claim. Order
// numbers are derived from the claim id, so a collision is a data
// integrity problem on the caller's side, never a retry case.
var ErrDuplicateOrder = errors.New("fulfillment: order already exists for claim")

const orderNumberPrefix = "KF-"

// OrderNumber derives the deterministic order number for a claim.
func OrderNumber(claimID string) string {
	return orderNumberPrefix + claimID
}

// PaidClaim is the slice of a paid or partially-paid billing event that
// order creation needs.
type PaidClaim struct {
	ClaimID           string
	PatientExternalID string
	Units             int
}

// RoutingRules decide quantity and carrier-handling tag for new orders.
type RoutingRules struct {
	UnitsPerClaimUnit  int
	InHouseMaxQuantity int
	LowVolumeStates    []string
}

// Route picks the handling tag. Small orders stay in house, as do all
// orders to the low-volume states the bulk carrier does not serve.
func (r RoutingRules) Route(quantity int, state string) string {
	if quantity <= r.InHouseMaxQuantity {
		return record.RoutingInHouse
	}
	for _, s := range r.LowVolumeStates {
		if strings.EqualFold(s, state) {
			return record.RoutingInHouse
		}
	}
	return record.RoutingThirdParty
}

// Creator builds shipping orders from paid claims.
type Creator struct {
	intakes  record.IntakeStore
	orders   record.OrderStore
	verifier addrverify.Verifier
	rules    RoutingRules
	logger   zerolog.Logger
}

func NewCreator(intakes record.IntakeStore, orders record.OrderStore, verifier addrverify.Verifier, rules RoutingRules, logger zerolog.Logger) *Creator {
	return &Creator{intakes: intakes, orders: orders, verifier: verifier, rules: rules, logger: logger}
}

// CreateForClaim creates one OrderCreated shipping order for the claim.
// The address is re-verified at creation time so the shipment uses the
// freshest standardized form; a verifier outage falls back to the address on
// file.
func (c *Creator) CreateForClaim(ctx context.Context, claim PaidClaim) (*record.Order, error) {
	num := OrderNumber(claim.ClaimID)

	if _, err := c.orders.GetByOrderNumber(ctx, num); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, num)
	} else if !errors.Is(err, record.ErrNotFound) {
		return nil, fmt.Errorf("fulfillment: lookup order %s: %w", num, err)
	}

	intakes, err := c.intakes.Find(ctx, record.IntakeFilter{RegistryPatientID: claim.PatientExternalID})
	if err != nil {
		return nil, fmt.Errorf("fulfillment: lookup intake for patient %s: %w", claim.PatientExternalID, err)
	}
	if len(intakes) == 0 {
		return nil, fmt.Errorf("fulfillment: no intake on file for patient %s", claim.PatientExternalID)
	}
	in := intakes[0]
	p := in.Payload

	addr := c.reverifyAddress(ctx, in)
	quantity := claim.Units * c.rules.UnitsPerClaimUnit

	o := &record.Order{
		Record: record.Record{
			Kind:       record.KindShippingOrder,
			Status:     record.StatusOrderCreated,
			PracticeID: in.Record.PracticeID,
		},
		Payload: record.ShippingOrder{
			OrderNumber:        num,
			ClaimCorrelationID: claim.ClaimID,
			RecipientName:      strings.TrimSpace(p.FirstName + " " + p.LastName),
			StreetAddress1:     addr.PrimaryLine,
			StreetAddress2:     addr.SecondaryLine,
			City:               addr.City,
			State:              addr.State,
			ZipCode:            addr.ZipCode,
			Quantity:           quantity,
			Routing:            c.rules.Route(quantity, addr.State),
		},
	}
	if err := c.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("fulfillment: create order %s: %w", num, err)
	}
	c.logger.Info().
		Str("order_number", num).
		Str("routing", o.Payload.Routing).
		Int("quantity", quantity).
		Msg("shipping order created")
	return o, nil
}

func (c *Creator) reverifyAddress(ctx context.Context, in *record.Intake) addrverify.Result {
	p := in.Payload
	onFile := addrverify.Result{
		PrimaryLine:   p.StreetAddress1,
		SecondaryLine: p.StreetAddress2,
		City:          p.City,
		State:         p.State,
		ZipCode:       p.ZipCode,
	}
	res, err := c.verifier.Verify(ctx, addrverify.Query{
		StreetAddress1: p.StreetAddress1,
		StreetAddress2: p.StreetAddress2,
		City:           p.City,
		State:          p.State,
		ZipCode:        p.ZipCode,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("record_id", in.Record.ID.String()).Msg("address re-verification unavailable, shipping to address on file")
		return onFile
	}
	if res.PrimaryLine == "" {
		res.PrimaryLine = onFile.PrimaryLine
	}
	if res.City == "" {
		res.City = onFile.City
	}
	if res.State == "" {
		res.State = onFile.State
	}
	if res.ZipCode == "" {
		res.ZipCode = onFile.ZipCode
	}
	return *res
}
