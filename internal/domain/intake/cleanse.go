package intake

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
	"github.com/kitflow/kitflow/internal/platform/batch"
)

const zipWidth = 5

// CleanserDeps is the per-shard dependency scope for the cleansing stage.
type CleanserDeps struct {
	Store    record.IntakeStore
	Verifier addrverify.Verifier
}

// Cleanser normalizes raw intake fields and advances records from
// PendingCleansing to PendingValidation. Address enrichment is best-effort:
// a collaborator failure never blocks the advance and never clobbers the
// submitted address.
type Cleanser struct {
	newDeps    func() CleanserDeps
	logger     zerolog.Logger
	maxRecords int
	shardSize  int
}

func NewCleanser(newDeps func() CleanserDeps, logger zerolog.Logger, maxRecords, shardSize int) *Cleanser {
	return &Cleanser{newDeps: newDeps, logger: logger, maxRecords: maxRecords, shardSize: shardSize}
}

func (c *Cleanser) Run(ctx context.Context) (batch.Summary, error) {
	fetch := c.newDeps()
	return batch.Run(ctx, c.logger, batch.Job[*record.Intake]{
		Name:       "cleansing",
		MaxRecords: c.maxRecords,
		ShardSize:  c.shardSize,
		Fetch: func(ctx context.Context, limit int) ([]*record.Intake, error) {
			return fetch.Store.ListByStatus(ctx, []record.Status{record.StatusPendingCleansing}, limit)
		},
		NewScope: func() batch.Processor[*record.Intake] {
			return &cleanseScope{deps: c.newDeps(), logger: c.logger}
		},
	})
}

type cleanseScope struct {
	deps   CleanserDeps
	logger zerolog.Logger
}

func (s *cleanseScope) Process(ctx context.Context, in *record.Intake) error {
	p := &in.Payload

	p.FirstName = stripDiacritics(strings.TrimSpace(p.FirstName))
	p.LastName = stripDiacritics(strings.TrimSpace(p.LastName))
	p.Birthday = strings.TrimSpace(p.Birthday)
	p.Gender = strings.TrimSpace(p.Gender)
	p.Email = strings.TrimSpace(p.Email)
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	p.StreetAddress1 = strings.TrimSpace(p.StreetAddress1)
	p.StreetAddress2 = strings.TrimSpace(p.StreetAddress2)
	p.City = strings.TrimSpace(p.City)
	p.State = strings.TrimSpace(p.State)
	p.ZipCode = strings.TrimSpace(p.ZipCode)
	p.FullAddress = strings.TrimSpace(p.FullAddress)
	p.PolicyCarrier = strings.TrimSpace(p.PolicyCarrier)
	p.PolicyID = stripAllWhitespace(p.PolicyID)

	s.verifyAddress(ctx, in)

	if err := s.deps.Store.UpdatePayload(ctx, in); err != nil {
		return fmt.Errorf("cleanse %s: update payload: %w", in.Record.ID, err)
	}
	if err := s.deps.Store.UpdateStatus(ctx, in.Record.ID, record.StatusPendingCleansing, record.StatusPendingValidation); err != nil {
		return fmt.Errorf("cleanse %s: advance status: %w", in.Record.ID, err)
	}
	return nil
}

// verifyAddress enriches the address from the verification collaborator.
// Only non-empty response parts overwrite existing data; any collaborator
// failure leaves the address exactly as submitted.
func (s *cleanseScope) verifyAddress(ctx context.Context, in *record.Intake) {
	p := &in.Payload
	q := addrverify.Query{
		StreetAddress1: p.StreetAddress1,
		StreetAddress2: p.StreetAddress2,
		City:           p.City,
		State:          p.State,
		ZipCode:        p.ZipCode,
	}
	if p.FullAddress != "" {
		q = addrverify.Query{FullAddress: p.FullAddress}
	}

	res, err := s.deps.Verifier.Verify(ctx, q)
	if err != nil {
		s.logger.Warn().Err(err).Str("record_id", in.Record.ID.String()).Msg("address verification unavailable, keeping submitted address")
		return
	}

	if res.PrimaryLine != "" {
		p.StreetAddress1 = res.PrimaryLine
	}
	if res.SecondaryLine != "" {
		p.StreetAddress2 = res.SecondaryLine
	}
	if res.City != "" {
		p.City = res.City
	}
	if res.State != "" {
		p.State = res.State
	}
	if res.ZipCode != "" {
		p.ZipCode = res.ZipCode
	}
	p.ZipCode = padZip(p.ZipCode)
}

func padZip(zip string) string {
	if zip == "" {
		return zip
	}
	for len(zip) < zipWidth {
		zip = "0" + zip
	}
	return zip
}

func stripAllWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// stripDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so "José" becomes "Jose".
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
