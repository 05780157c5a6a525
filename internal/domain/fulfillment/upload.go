package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/batch"
	"github.com/kitflow/kitflow/internal/platform/carrier"
)

// UploaderDeps are the collaborators the upload stage needs.
type UploaderDeps struct {
	Orders  record.OrderStore
	Carrier carrier.Client
}

// Uploader pushes OrderCreated records to the external carrier. Candidates
// are locked up front in one transaction, then submitted in fixed-size
// batches. A whole-batch transport failure skips the batch and leaves its
// records Locked for manual follow-up; they are never auto-reset.
type Uploader struct {
	deps       UploaderDeps
	logger     zerolog.Logger
	maxRecords int
	batchSize  int
}

func NewUploader(deps UploaderDeps, logger zerolog.Logger, maxRecords, batchSize int) *Uploader {
	return &Uploader{deps: deps, logger: logger, maxRecords: maxRecords, batchSize: batchSize}
}

func (u *Uploader) Run(ctx context.Context) (batch.Summary, error) {
	var sum batch.Summary

	orders, err := u.deps.Orders.ListByStatus(ctx, []record.Status{record.StatusOrderCreated}, u.maxRecords)
	if err != nil {
		return sum, fmt.Errorf("order upload: fetch candidates: %w", err)
	}
	sum.Fetched = len(orders)
	if len(orders) == 0 {
		return sum, nil
	}

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.Record.ID
	}
	if err := u.deps.Orders.LockAll(ctx, ids, record.StatusOrderCreated); err != nil {
		return sum, fmt.Errorf("order upload: lock candidates: %w", err)
	}

	for start := 0; start < len(orders); start += u.batchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		end := start + u.batchSize
		if end > len(orders) {
			end = len(orders)
		}
		u.uploadBatch(ctx, orders[start:end], &sum)
	}

	u.logger.Info().
		Int("fetched", sum.Fetched).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Msg("order upload finished")
	return sum, nil
}

func (u *Uploader) uploadBatch(ctx context.Context, chunk []*record.Order, sum *batch.Summary) {
	models := make([]carrier.OrderModel, len(chunk))
	for i, o := range chunk {
		p := o.Payload
		models[i] = carrier.OrderModel{
			OrderNumber:    p.OrderNumber,
			RecipientName:  p.RecipientName,
			StreetAddress1: p.StreetAddress1,
			StreetAddress2: p.StreetAddress2,
			City:           p.City,
			State:          p.State,
			ZipCode:        p.ZipCode,
			Quantity:       p.Quantity,
			Routing:        p.Routing,
		}
	}

	results, err := u.deps.Carrier.CreateOrders(ctx, models)
	if err != nil {
		u.logger.Error().Err(err).Int("batch_size", len(chunk)).Msg("carrier batch failed, records remain locked")
		sum.Failed += len(chunk)
		return
	}

	byNumber := make(map[string]carrier.OrderResult, len(results))
	for _, r := range results {
		byNumber[r.OrderNumber] = r
	}

	for _, o := range chunk {
		res, ok := byNumber[o.Payload.OrderNumber]
		if !ok {
			u.logger.Error().Str("order_number", o.Payload.OrderNumber).Msg("carrier response missing order, record remains locked")
			sum.Failed++
			continue
		}
		if !res.Success {
			u.logger.Warn().Str("order_number", o.Payload.OrderNumber).Str("error", res.ErrorMessage).Msg("carrier rejected order")
			if err := u.deps.Orders.UpdateStatus(ctx, o.Record.ID, record.StatusLocked, record.StatusOrderFailed); err != nil {
				u.logger.Error().Err(err).Str("order_number", o.Payload.OrderNumber).Msg("mark order failed")
			}
			sum.Failed++
			continue
		}
		if err := u.deps.Orders.SetExternalID(ctx, o.Record.ID, res.OrderID); err != nil {
			u.logger.Error().Err(err).Str("order_number", o.Payload.OrderNumber).Msg("store external order id")
			sum.Failed++
			continue
		}
		if err := u.deps.Orders.UpdateStatus(ctx, o.Record.ID, record.StatusLocked, record.StatusOrderUploaded); err != nil {
			u.logger.Error().Err(err).Str("order_number", o.Payload.OrderNumber).Msg("mark order uploaded")
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}
}
