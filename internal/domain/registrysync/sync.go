// Package registrysync pushes validated records into the external patient
// registry, creating the dependent guarantor, coverage, and account
// resources with the program defaults.
package registrysync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/domain/validation"
	"github.com/kitflow/kitflow/internal/platform/batch"
	"github.com/kitflow/kitflow/internal/platform/registry"
)

// Defaults are the program-wide registry resources every new patient is
// attached to.
type Defaults struct {
	ProviderID string
	LocationID string
	InsurerID  string
}

// Deps is the per-shard dependency scope for the sync stage.
type Deps struct {
	Store    record.IntakeStore
	Registry registry.Client
}

// Stage syncs ReadyForSync records. Phase 1 locks the whole candidate set
// in one transaction; phase 2 resolves each record against the registry.
// SkipMode bypasses phase 2 and marks every locked record SyncComplete, an
// operational dry-run.
type Stage struct {
	newDeps    func() Deps
	defaults   Defaults
	skipMode   bool
	logger     zerolog.Logger
	maxRecords int
	shardSize  int
}

func NewStage(newDeps func() Deps, defaults Defaults, skipMode bool, logger zerolog.Logger, maxRecords, shardSize int) *Stage {
	return &Stage{newDeps: newDeps, defaults: defaults, skipMode: skipMode, logger: logger, maxRecords: maxRecords, shardSize: shardSize}
}

func (s *Stage) Run(ctx context.Context) (batch.Summary, error) {
	fetch := s.newDeps()
	return batch.Run(ctx, s.logger, batch.Job[*record.Intake]{
		Name:       "registry-sync",
		MaxRecords: s.maxRecords,
		ShardSize:  s.shardSize,
		Fetch: func(ctx context.Context, limit int) ([]*record.Intake, error) {
			candidates, err := fetch.Store.ListByStatus(ctx, []record.Status{record.StatusReadyForSync}, limit)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				return nil, nil
			}
			ids := make([]uuid.UUID, len(candidates))
			for i, c := range candidates {
				ids[i] = c.Record.ID
			}
			if err := fetch.Store.LockAll(ctx, ids, record.StatusReadyForSync); err != nil {
				return nil, fmt.Errorf("lock candidates: %w", err)
			}
			for _, c := range candidates {
				c.Record.Status = record.StatusLocked
			}
			return candidates, nil
		},
		NewScope: func() batch.Processor[*record.Intake] {
			return &syncScope{deps: s.newDeps(), defaults: s.defaults, skipMode: s.skipMode, logger: s.logger}
		},
	})
}

type syncScope struct {
	deps     Deps
	defaults Defaults
	skipMode bool
	logger   zerolog.Logger
}

func (s *syncScope) Process(ctx context.Context, in *record.Intake) error {
	if s.skipMode {
		return s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusLocked, record.StatusSyncComplete)
	}

	if err := s.sync(ctx, in); err != nil {
		if failErr := s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusLocked, record.StatusFailedSync); failErr != nil {
			s.logger.Error().Err(failErr).Str("record_id", in.Record.ID.String()).Msg("marking sync failure also failed")
		}
		return fmt.Errorf("sync %s: %w", in.Record.ID, err)
	}
	return s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusLocked, record.StatusSyncComplete)
}

func (s *syncScope) sync(ctx context.Context, in *record.Intake) error {
	p := &in.Payload

	born, err := validation.ParseBirthday(p.Birthday)
	if err != nil {
		return err
	}
	birthDate := born.Format("2006-01-02")

	patients, err := s.deps.Registry.QueryPatients(ctx, registry.PatientFilter{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: birthDate,
	})
	if err != nil {
		return err
	}
	if len(patients) > 0 {
		p.RegistryPatientID = patients[0].ID
		return s.deps.Store.UpdatePayload(ctx, in)
	}

	patientID, err := s.deps.Registry.CreatePatient(ctx, registry.NewPatient{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: birthDate,
		Gender:    p.Gender,
		Email:     p.Email,
		Phone:     p.PhoneNumber,
		Address1:  p.StreetAddress1,
		Address2:  p.StreetAddress2,
		City:      p.City,
		State:     p.State,
		ZipCode:   p.ZipCode,
	})
	if err != nil {
		return err
	}
	if _, err := s.deps.Registry.CreateGuarantor(ctx, registry.NewGuarantor{PatientID: patientID}); err != nil {
		return err
	}
	if _, err := s.deps.Registry.CreateCoverage(ctx, registry.NewCoverage{
		PatientID: patientID,
		InsurerID: s.defaults.InsurerID,
		PolicyID:  p.PolicyID,
	}); err != nil {
		return err
	}
	if err := s.deps.Registry.CreateAccount(ctx, registry.NewAccount{
		PatientID:  patientID,
		ProviderID: s.defaults.ProviderID,
		LocationID: s.defaults.LocationID,
	}); err != nil {
		return err
	}

	p.RegistryPatientID = patientID
	return s.deps.Store.UpdatePayload(ctx, in)
}
