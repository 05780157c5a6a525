// Package intake covers the intake side of the pipeline: submission
// ingestion, field cleansing, discovery-results resolution, and
// unshippable-address outreach.
package intake

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/notify"
)

// Submission is a raw third-party intake-form payload.
type Submission struct {
	SubmissionID      string `json:"submission_id"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Birthday          string `json:"birthday"`
	Gender            string `json:"gender"`
	Email             string `json:"email"`
	PhoneNumber       string `json:"phone_number"`
	SmsOptIn          bool   `json:"sms_opt_in"`
	SubscriptionOptIn bool   `json:"subscription_opt_in"`
	StreetAddress1    string `json:"street_address_1"`
	StreetAddress2    string `json:"street_address_2"`
	City              string `json:"city"`
	State             string `json:"state"`
	ZipCode           string `json:"zip_code"`
	FullAddress       string `json:"full_address"`
	PolicyID          string `json:"policy_id"`
	PolicyCarrier     string `json:"policy_carrier"`
	TestQuantity      string `json:"test_quantity"`
}

// Service creates intake records from raw submissions.
type Service struct {
	store    record.IntakeStore
	notifier *notify.Service
	logger   zerolog.Logger
}

func NewService(store record.IntakeStore, notifier *notify.Service, logger zerolog.Logger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger}
}

// CreateFromSubmission persists one submission as a PendingCleansing intake.
// The raw payload is stored as-is; normalization belongs to the cleansing
// stage. A confirmation message is best-effort and never fails the intake.
func (s *Service) CreateFromSubmission(ctx context.Context, practiceID string, sub Submission) (*record.Intake, error) {
	if sub.FirstName == "" && sub.LastName == "" {
		return nil, fmt.Errorf("submission has no name fields")
	}

	qty, err := strconv.Atoi(sub.TestQuantity)
	if err != nil {
		qty = 0
	}

	in := &record.Intake{
		Record: record.Record{
			Kind:       record.KindIntake,
			Status:     record.StatusPendingCleansing,
			PracticeID: practiceID,
		},
		Payload: record.IntakeRecord{
			FirstName:         sub.FirstName,
			LastName:          sub.LastName,
			Birthday:          sub.Birthday,
			Gender:            sub.Gender,
			Email:             sub.Email,
			PhoneNumber:       sub.PhoneNumber,
			SmsOptIn:          sub.SmsOptIn,
			SubscriptionOptIn: sub.SubscriptionOptIn,
			StreetAddress1:    sub.StreetAddress1,
			StreetAddress2:    sub.StreetAddress2,
			City:              sub.City,
			State:             sub.State,
			ZipCode:           sub.ZipCode,
			FullAddress:       sub.FullAddress,
			PolicyID:          sub.PolicyID,
			PolicyCarrier:     sub.PolicyCarrier,
			TestQuantity:      qty,
			SubmissionID:      sub.SubmissionID,
		},
	}

	if err := s.store.Create(ctx, in); err != nil {
		return nil, fmt.Errorf("create intake: %w", err)
	}

	if sub.SubscriptionOptIn && sub.Email != "" && s.notifier != nil {
		if err := s.notifier.SendTemplate(ctx, notify.TypeEmail, sub.Email, notify.TemplateOptInConfirmation, map[string]string{
			"first_name": sub.FirstName,
		}); err != nil {
			s.logger.Warn().Err(err).Str("record_id", in.Record.ID.String()).Msg("opt-in confirmation failed")
		}
	}

	s.logger.Info().Str("record_id", in.Record.ID.String()).Str("practice_id", practiceID).Msg("intake created")
	return in, nil
}
