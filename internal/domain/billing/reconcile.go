package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/fulfillment"
	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/batch"
	"github.com/kitflow/kitflow/internal/platform/clearinghouse"
)

// Publisher fans a billing event out to registered integration endpoints.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{})
}

// OrderCreator is the fulfillment hook for paid claims.
type OrderCreator interface {
	CreateForClaim(ctx context.Context, claim fulfillment.PaidClaim) (*record.Order, error)
}

// Reconciler polls the clearinghouse reporting feed incrementally, starting
// from the most recent report time already on file, and upserts a shadow
// charge record per reported encounter. Paid events additionally hand off to
// fulfillment order creation.
type Reconciler struct {
	charges    record.ChargeStore
	ch         clearinghouse.Client
	publisher  Publisher
	orders     OrderCreator
	practiceID string
	logger     zerolog.Logger
}

func NewReconciler(charges record.ChargeStore, ch clearinghouse.Client, publisher Publisher, orders OrderCreator, practiceID string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{charges: charges, ch: ch, publisher: publisher, orders: orders, practiceID: practiceID, logger: logger}
}

func (r *Reconciler) Run(ctx context.Context) (batch.Summary, error) {
	var sum batch.Summary

	since, err := r.charges.MostRecentReportTime(ctx, r.practiceID)
	if err != nil {
		return sum, fmt.Errorf("billing reconcile: poll cursor: %w", err)
	}
	events, err := r.ch.QueryEventsSince(ctx, since)
	if err != nil {
		return sum, fmt.Errorf("billing reconcile: query events: %w", err)
	}
	sum.Fetched = len(events)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := r.apply(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("encounter_id", ev.EncounterID).Msg("charge event not applied")
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}

	r.logger.Info().
		Int("fetched", sum.Fetched).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Time("since", since).
		Msg("billing reconciliation finished")
	return sum, nil
}

func (r *Reconciler) apply(ctx context.Context, ev clearinghouse.ChargeEvent) error {
	status, err := chargeStatus(ev.EventType)
	if err != nil {
		return err
	}
	charge := &record.Charge{
		Record: record.Record{
			Kind:       record.KindBillingCharge,
			Status:     status,
			PracticeID: r.practiceID,
		},
		Payload: record.BillingCharge{
			EncounterID:       ev.EncounterID,
			PatientExternalID: ev.PatientExternalID,
			ClaimID:           ev.ClaimID,
			EventType:         ev.EventType,
			AmountCents:       ev.AmountCents,
			ServiceDate:       ev.ServiceDate,
			ReportedAt:        ev.ReportedAt,
		},
	}
	if _, err := r.charges.Upsert(ctx, charge); err != nil {
		return fmt.Errorf("upsert charge: %w", err)
	}
	if r.publisher != nil {
		r.publisher.Publish(ctx, "claim."+ev.EventType, charge)
	}

	if ev.EventType == record.ChargePaid && r.orders != nil {
		_, err := r.orders.CreateForClaim(ctx, fulfillment.PaidClaim{
			ClaimID:           ev.ClaimID,
			PatientExternalID: ev.PatientExternalID,
			Units:             ev.Units,
		})
		if errors.Is(err, fulfillment.ErrDuplicateOrder) {
			return err
		}
		if err != nil {
			return fmt.Errorf("create order for paid claim: %w", err)
		}
	}
	return nil
}

func chargeStatus(eventType string) (record.Status, error) {
	switch eventType {
	case record.ChargeSubmitted:
		return record.StatusChargeSubmitted, nil
	case record.ChargeDenied:
		return record.StatusChargeDenied, nil
	case record.ChargePaid:
		return record.StatusChargePaid, nil
	default:
		return "", fmt.Errorf("unknown charge event type %q", eventType)
	}
}
