// Package validation holds the decision core of the pipeline: the ordered
// rule cascade that assigns every PendingValidation record exactly one
// resulting status, and the cleanup job that untangles ambiguous
// duplicate-policy groups.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
	"github.com/kitflow/kitflow/internal/platform/batch"
)

// EngineDeps is the per-shard dependency scope for the validation engine.
type EngineDeps struct {
	Store    record.IntakeStore
	Verifier addrverify.Verifier
}

// Engine runs the rule cascade over PendingValidation candidates. The whole
// candidate set is moved to Locked in one transaction before any rule runs,
// so a crash mid-run leaves inspectable, re-triggerable state rather than
// silently reprocessed records.
type Engine struct {
	newDeps    func() EngineDeps
	cfg        RuleConfig
	logger     zerolog.Logger
	maxRecords int
	shardSize  int
}

func NewEngine(newDeps func() EngineDeps, cfg RuleConfig, logger zerolog.Logger, maxRecords, shardSize int) *Engine {
	return &Engine{newDeps: newDeps, cfg: cfg, logger: logger, maxRecords: maxRecords, shardSize: shardSize}
}

func (e *Engine) Run(ctx context.Context) (batch.Summary, error) {
	fetch := e.newDeps()
	return batch.Run(ctx, e.logger, batch.Job[*record.Intake]{
		Name:       "validation",
		MaxRecords: e.maxRecords,
		ShardSize:  e.shardSize,
		Fetch: func(ctx context.Context, limit int) ([]*record.Intake, error) {
			candidates, err := fetch.Store.ListByStatus(ctx, []record.Status{record.StatusPendingValidation}, limit)
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
			if err := fetch.Store.LockAll(ctx, ids, record.StatusPendingValidation); err != nil {
				return nil, fmt.Errorf("lock candidates: %w", err)
			}
			for _, c := range candidates {
				c.Record.Status = record.StatusLocked
			}
			return candidates, nil
		},
		NewScope: func() batch.Processor[*record.Intake] {
			return &engineScope{deps: e.newDeps(), cfg: e.cfg, logger: e.logger}
		},
	})
}

type engineScope struct {
	deps   EngineDeps
	cfg    RuleConfig
	logger zerolog.Logger
}

// Process evaluates one locked record and writes its final status. On an
// unexpected failure the record reverts to PendingValidation for the next
// run; a date-parse failure instead resolves to InvalidBirthdayFormat.
func (s *engineScope) Process(ctx context.Context, in *record.Intake) error {
	final, ruleName, err := evaluate(ctx, s.deps, s.cfg, in)
	if err != nil {
		if errors.Is(err, ErrBirthdayFormat) {
			final = record.StatusInvalidBirthdayFormat
		} else {
			if revertErr := s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusLocked, record.StatusPendingValidation); revertErr != nil {
				s.logger.Error().Err(revertErr).Str("record_id", in.Record.ID.String()).Msg("revert after failure also failed; record stays locked")
			}
			return fmt.Errorf("validate %s: %w", in.Record.ID, err)
		}
	}

	if err := s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusLocked, final); err != nil {
		return fmt.Errorf("validate %s: write %s: %w", in.Record.ID, final, err)
	}
	s.logger.Debug().Str("record_id", in.Record.ID.String()).Str("rule", ruleName).Str("status", string(final)).Msg("validated")
	return nil
}

// evaluate walks the ordered rule list; the first matching rule decides
// the record. The order is total: exactly one status comes out.
func evaluate(ctx context.Context, deps EngineDeps, cfg RuleConfig, in *record.Intake) (record.Status, string, error) {
	ec := &evalContext{deps: deps, cfg: cfg, in: in}
	for _, r := range rules {
		status, matched, err := r.eval(ctx, ec)
		if err != nil {
			return "", r.name, err
		}
		if matched {
			return status, r.name, nil
		}
	}
	// Unreachable: the accept rule always matches.
	return "", "", fmt.Errorf("no rule matched record %s", in.Record.ID)
}
