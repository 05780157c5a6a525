package intake

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/batch"
	"github.com/kitflow/kitflow/internal/platform/notify"
)

// Outreach contacts people whose verified address came back undeliverable,
// asking for a corrected one, and parks the record in
// UnshippableAddressContacted.
type Outreach struct {
	store      record.IntakeStore
	notifier   *notify.Service
	logger     zerolog.Logger
	maxRecords int
	shardSize  int
}

func NewOutreach(store record.IntakeStore, notifier *notify.Service, logger zerolog.Logger, maxRecords, shardSize int) *Outreach {
	return &Outreach{store: store, notifier: notifier, logger: logger, maxRecords: maxRecords, shardSize: shardSize}
}

func (o *Outreach) Run(ctx context.Context) (batch.Summary, error) {
	return batch.Run(ctx, o.logger, batch.Job[*record.Intake]{
		Name:       "unshippable-outreach",
		MaxRecords: o.maxRecords,
		ShardSize:  o.shardSize,
		Fetch: func(ctx context.Context, limit int) ([]*record.Intake, error) {
			return o.store.ListByStatus(ctx, []record.Status{record.StatusUnshippableAddress}, limit)
		},
		NewScope: func() batch.Processor[*record.Intake] {
			return outreachScope{store: o.store, notifier: o.notifier}
		},
	})
}

type outreachScope struct {
	store    record.IntakeStore
	notifier *notify.Service
}

func (s outreachScope) Process(ctx context.Context, in *record.Intake) error {
	p := in.Payload
	data := map[string]string{"first_name": p.FirstName}

	var sent bool
	if p.SmsOptIn && p.PhoneNumber != "" {
		if err := s.notifier.SendTemplate(ctx, notify.TypeSMS, p.PhoneNumber, notify.TemplateAddressProblem, data); err == nil {
			sent = true
		}
	}
	if !sent && p.Email != "" {
		if err := s.notifier.SendTemplate(ctx, notify.TypeEmail, p.Email, notify.TemplateAddressProblem, data); err != nil {
			return fmt.Errorf("outreach %s: %w", in.Record.ID, err)
		}
		sent = true
	}
	if !sent {
		return fmt.Errorf("outreach %s: no reachable contact channel", in.Record.ID)
	}

	return s.store.UpdateStatus(ctx, in.Record.ID, record.StatusUnshippableAddress, record.StatusUnshippableAddressContacted)
}
