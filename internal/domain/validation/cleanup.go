package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/batch"
)

// Cleanup resolves groups of records flagged DuplicatePolicyID so that at
// most one member of each group survives. Survivor selection is
// deterministic: members arrive in creation order and the first one
// standing after the elimination cascade wins.
type Cleanup struct {
	newStore  func() record.IntakeStore
	logger    zerolog.Logger
	maxGroups int
	shardSize int
	now       func() time.Time
}

func NewCleanup(newStore func() record.IntakeStore, logger zerolog.Logger, maxGroups, shardSize int) *Cleanup {
	return &Cleanup{newStore: newStore, logger: logger, maxGroups: maxGroups, shardSize: shardSize, now: time.Now}
}

func (c *Cleanup) Run(ctx context.Context) (batch.Summary, error) {
	fetchStore := c.newStore()
	return batch.Run(ctx, c.logger, batch.Job[record.DuplicateGroup]{
		Name:       "duplicate-cleanup",
		MaxRecords: c.maxGroups,
		ShardSize:  c.shardSize,
		Fetch: func(ctx context.Context, limit int) ([]record.DuplicateGroup, error) {
			return fetchStore.ListDuplicateGroups(ctx, limit)
		},
		NewScope: func() batch.Processor[record.DuplicateGroup] {
			return &cleanupScope{store: c.newStore(), logger: c.logger, now: c.now}
		},
	})
}

type cleanupScope struct {
	store  record.IntakeStore
	logger zerolog.Logger
	now    func() time.Time
}

func (s *cleanupScope) Process(ctx context.Context, g record.DuplicateGroup) error {
	if len(g.Members) == 0 {
		return nil
	}
	if isGenericPolicyID(g.PolicyID) {
		return s.resolveGenericGroup(ctx, g)
	}
	return s.resolveGroup(ctx, g)
}

// resolveGenericGroup handles placeholder policy ids: the id itself can't
// distinguish people, so sub-group by name and send one record per person
// back through discovery.
func (s *cleanupScope) resolveGenericGroup(ctx context.Context, g record.DuplicateGroup) error {
	type nameKey struct{ first, last string }
	seen := make(map[nameKey]bool)
	for _, in := range g.Members {
		key := nameKey{in.Payload.FirstName, in.Payload.LastName}
		target := record.StatusDuplicatePolicyIDDiscarded
		if !seen[key] {
			seen[key] = true
			target = record.StatusRequiresDiscovery
		}
		if err := s.move(ctx, in, target); err != nil {
			return err
		}
	}
	return nil
}

func (s *cleanupScope) resolveGroup(ctx context.Context, g record.DuplicateGroup) error {
	// A sibling outside the group that already passed validation makes every
	// group member an extra.
	siblings, err := s.store.ListPolicySiblings(ctx, g.PolicyID, uuid.Nil, record.SiblingIgnoredStatuses)
	if err != nil {
		return fmt.Errorf("group %s: query siblings: %w", g.PolicyID, err)
	}
	for _, sib := range siblings {
		if sib.Record.Status.PassedValidation() {
			return s.discardAll(ctx, g.Members)
		}
	}

	survivors := g.Members

	// (a) unparseable birthday or under-age
	survivors = filter(survivors, func(in *record.Intake) bool {
		born, err := ParseBirthday(in.Payload.Birthday)
		if err != nil {
			return false
		}
		return ageAt(born, s.now()) >= 18
	})

	// (b) blank zip
	survivors = filter(survivors, func(in *record.Intake) bool {
		return in.Payload.ZipCode != ""
	})

	// (c) blank identity fields — but never let this filter empty the set:
	// when no candidate is complete, an incomplete survivor beats none.
	complete := filter(survivors, func(in *record.Intake) bool {
		p := in.Payload
		return p.FirstName != "" && p.LastName != "" && p.Gender != "" && p.Email != "" && p.PhoneNumber != ""
	})
	if len(complete) > 0 {
		survivors = complete
	} else if len(g.Members) == 1 && len(survivors) == 1 {
		// A lone incomplete record has no rival worth keeping it for.
		survivors = nil
	}

	if len(survivors) == 0 {
		return s.discardAll(ctx, g.Members)
	}

	winner := survivors[0]
	for _, in := range g.Members {
		target := record.StatusDuplicatePolicyIDDiscarded
		if in.Record.ID == winner.Record.ID {
			target = record.StatusPendingValidation
		}
		if err := s.move(ctx, in, target); err != nil {
			return err
		}
	}
	return nil
}

func (s *cleanupScope) discardAll(ctx context.Context, members []*record.Intake) error {
	for _, in := range members {
		if err := s.move(ctx, in, record.StatusDuplicatePolicyIDDiscarded); err != nil {
			return err
		}
	}
	return nil
}

func (s *cleanupScope) move(ctx context.Context, in *record.Intake, to record.Status) error {
	if err := s.store.UpdateStatus(ctx, in.Record.ID, record.StatusDuplicatePolicyID, to); err != nil {
		return fmt.Errorf("move %s to %s: %w", in.Record.ID, to, err)
	}
	return nil
}

func filter(in []*record.Intake, keep func(*record.Intake) bool) []*record.Intake {
	var out []*record.Intake
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func ageAt(born, now time.Time) int {
	years := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		years--
	}
	return years
}
