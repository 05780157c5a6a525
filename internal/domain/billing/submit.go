// Package billing submits claims for synced intakes and reconciles the
// clearinghouse reporting feed into local charge records.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/clearinghouse"
)

// Submitter sends claims for synced intakes to the clearinghouse. Submission
// is fire-and-forget: the clearinghouse deduplicates by patient and service
// date, and outcomes arrive later through the reporting feed polled by the
// Reconciler.
type Submitter struct {
	intakes    record.IntakeStore
	ch         clearinghouse.Client
	logger     zerolog.Logger
	maxRecords int
	now        func() time.Time
}

func NewSubmitter(intakes record.IntakeStore, ch clearinghouse.Client, logger zerolog.Logger, maxRecords int) *Submitter {
	return &Submitter{intakes: intakes, ch: ch, logger: logger, maxRecords: maxRecords, now: time.Now}
}

// Run submits one claim per SyncComplete intake. Returns the number of
// claims submitted.
func (s *Submitter) Run(ctx context.Context) (int, error) {
	intakes, err := s.intakes.ListByStatus(ctx, []record.Status{record.StatusSyncComplete}, s.maxRecords)
	if err != nil {
		return 0, fmt.Errorf("claim submission: fetch candidates: %w", err)
	}
	if len(intakes) == 0 {
		return 0, nil
	}

	serviceDate := s.now().UTC()
	claims := make([]clearinghouse.ClaimModel, 0, len(intakes))
	for _, in := range intakes {
		p := in.Payload
		if p.RegistryPatientID == "" {
			s.logger.Warn().Str("record_id", in.Record.ID.String()).Msg("synced intake missing registry patient id, skipping claim")
			continue
		}
		claims = append(claims, clearinghouse.ClaimModel{
			PatientExternalID: p.RegistryPatientID,
			PolicyID:          p.PolicyID,
			PolicyCarrier:     p.PolicyCarrier,
			ServiceDate:       serviceDate,
			Units:             p.TestQuantity,
		})
	}
	if len(claims) == 0 {
		return 0, nil
	}

	if err := s.ch.SubmitClaims(ctx, claims); err != nil {
		return 0, fmt.Errorf("claim submission: %w", err)
	}
	s.logger.Info().Int("claims", len(claims)).Msg("claims submitted")
	return len(claims), nil
}
