package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/kitflow/kitflow/internal/domain/record"
)

// DiscoveryRow is one row of a supplemental identity spreadsheet, usually a
// recovered policy number for a record stuck in RequiresDiscovery.
type DiscoveryRow struct {
	FirstName     string
	LastName      string
	Birthday      string
	PolicyID      string
	PolicyCarrier string
	RecordID      string // optional; identity triple used when absent
}

// Resolver merges discovery rows into matching intake records. An eligible
// recovered carrier re-queues the record for cleansing; anything else is a
// dead end.
type Resolver struct {
	store    record.IntakeStore
	eligible map[string]bool
	logger   zerolog.Logger
}

func NewResolver(store record.IntakeStore, eligibleCarriers []string, logger zerolog.Logger) *Resolver {
	eligible := make(map[string]bool, len(eligibleCarriers))
	for _, c := range eligibleCarriers {
		eligible[normalizeCarrier(c)] = true
	}
	return &Resolver{store: store, eligible: eligible, logger: logger}
}

func normalizeCarrier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IngestXLSX parses a discovery-results spreadsheet and applies every row.
// Row failures are logged and skipped; the upload as a whole only fails on
// an unreadable file.
func (r *Resolver) IngestXLSX(ctx context.Context, src io.Reader) (applied, skipped int, err error) {
	rows, err := ParseResultsXLSX(src)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		ok, err := r.Apply(ctx, row)
		if err != nil {
			r.logger.Error().Err(err).Str("policy_id", row.PolicyID).Msg("discovery row failed")
			skipped++
			continue
		}
		if ok {
			applied++
		} else {
			skipped++
		}
	}
	return applied, skipped, nil
}

// ParseResultsXLSX reads the fixed six-column discovery sheet: first name,
// last name, birthday, policy id, policy carrier, record id. The first row
// is a header.
func ParseResultsXLSX(src io.Reader) ([]DiscoveryRow, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open discovery sheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read discovery sheet: %w", err)
	}

	var out []DiscoveryRow
	for i, cells := range rows {
		if i == 0 {
			continue // header
		}
		get := func(col int) string {
			if col < len(cells) {
				return strings.TrimSpace(cells[col])
			}
			return ""
		}
		row := DiscoveryRow{
			FirstName:     get(0),
			LastName:      get(1),
			Birthday:      get(2),
			PolicyID:      get(3),
			PolicyCarrier: get(4),
			RecordID:      get(5),
		}
		if row.FirstName == "" && row.LastName == "" && row.RecordID == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Apply resolves the row's target record and merges the recovered policy
// data. Returns false when no record matched or the target is in a state
// discovery may not touch.
func (r *Resolver) Apply(ctx context.Context, row DiscoveryRow) (bool, error) {
	target, err := r.resolve(ctx, row)
	if err != nil {
		return false, err
	}
	if target == nil {
		return false, nil
	}

	// Discovery never touches locked, terminal, or already-promoted records.
	st := target.Record.Status
	if st == record.StatusLocked || st.IsTerminal() ||
		st == record.StatusReadyForSync || st == record.StatusSyncComplete {
		r.logger.Debug().Str("record_id", target.Record.ID.String()).Str("status", string(st)).Msg("discovery target untouchable")
		return false, nil
	}

	if !r.eligible[normalizeCarrier(row.PolicyCarrier)] {
		if err := r.store.UpdateStatus(ctx, target.Record.ID, st, record.StatusRequiresDiscoveryDiscarded); err != nil {
			return false, fmt.Errorf("discard %s: %w", target.Record.ID, err)
		}
		return true, nil
	}

	target.Payload.PolicyID = row.PolicyID
	target.Payload.PolicyCarrier = row.PolicyCarrier
	if err := r.store.UpdatePayload(ctx, target); err != nil {
		return false, fmt.Errorf("merge policy into %s: %w", target.Record.ID, err)
	}
	if err := r.store.UpdateStatus(ctx, target.Record.ID, st, record.StatusPendingCleansing); err != nil {
		return false, fmt.Errorf("requeue %s: %w", target.Record.ID, err)
	}
	return true, nil
}

func (r *Resolver) resolve(ctx context.Context, row DiscoveryRow) (*record.Intake, error) {
	if row.RecordID != "" {
		id, err := uuid.Parse(row.RecordID)
		if err != nil {
			return nil, fmt.Errorf("bad record id %q: %w", row.RecordID, err)
		}
		in, err := r.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return in, nil
	}

	matches, err := r.store.Find(ctx, record.IntakeFilter{
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Birthday:  row.Birthday,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}
