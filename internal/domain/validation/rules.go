package validation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode"

	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
	"github.com/kitflow/kitflow/internal/platform/registry"
)

// ErrBirthdayFormat marks a date-parse failure. Wherever it surfaces during
// an evaluation, the record resolves to InvalidBirthdayFormat instead of
// reverting.
var ErrBirthdayFormat = errors.New("unparseable birthday")

var (
	zipPattern = regexp.MustCompile(`^(\d{5}|[A-Z]\d[A-Z]\s\d[A-Z]\d)$`)

	// Well-formed policy ids are 8-11 alphanumerics; I and O are excluded
	// because the issuer never uses them and their presence means a
	// transcription error.
	policyIDPattern = regexp.MustCompile(`^[0-9A-HJ-NP-Z]{8,11}$`)
)

var birthdayLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseBirthday parses the free-text birthday field, accepting the handful
// of formats intake forms actually produce.
func ParseBirthday(s string) (time.Time, error) {
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBirthdayFormat, s)
}

// isGenericPolicyID reports whether the id is entirely digits or entirely
// letters — a strong signal it is a placeholder, not a real policy number.
func isGenericPolicyID(s string) bool {
	if s == "" {
		return false
	}
	allDigits, allLetters := true, true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			allDigits = false
		}
		if !unicode.IsLetter(r) {
			allLetters = false
		}
	}
	return allDigits || allLetters
}

// RuleConfig carries the program constants the rules close over.
type RuleConfig struct {
	// CanonicalCarrier is written onto every record that reaches
	// ReadyForSync.
	CanonicalCarrier string

	// MinorBirthYearCutoff: a birth year strictly after this means the
	// subject is a minor and ineligible.
	MinorBirthYearCutoff int
}

type evalContext struct {
	deps EngineDeps
	cfg  RuleConfig
	in   *record.Intake
}

// A rule inspects the record and either claims it with a resulting status
// (matched == true) or passes it to the next rule. The list below is a
// total order: the first match wins and evaluation stops.
type rule struct {
	name string
	eval func(ctx context.Context, ec *evalContext) (record.Status, bool, error)
}

var rules = []rule{
	{name: "missing-policy-id", eval: ruleMissingPolicyID},
	{name: "duplicate-policy-id", eval: ruleDuplicatePolicyID},
	{name: "address-shape", eval: ruleAddressShape},
	{name: "name-length", eval: ruleNameLength},
	{name: "deliverability", eval: ruleDeliverability},
	{name: "birthday", eval: ruleBirthday},
	{name: "demographic-duplicate", eval: ruleDemographicDuplicate},
	{name: "policy-id-format", eval: rulePolicyIDFormat},
	{name: "accept", eval: ruleAccept},
}

func ruleMissingPolicyID(_ context.Context, ec *evalContext) (record.Status, bool, error) {
	if ec.in.Payload.PolicyID == "" {
		return record.StatusRequiresDiscovery, true, nil
	}
	return "", false, nil
}

func ruleDuplicatePolicyID(ctx context.Context, ec *evalContext) (record.Status, bool, error) {
	siblings, err := ec.deps.Store.ListPolicySiblings(ctx, ec.in.Payload.PolicyID, ec.in.Record.ID, record.SiblingIgnoredStatuses)
	if err != nil {
		return "", false, fmt.Errorf("query policy siblings: %w", err)
	}
	if len(siblings) == 0 {
		return "", false, nil
	}
	// A generic id says nothing about which member is real; the whole group
	// is deferred to cleanup, never resolved record by record.
	if isGenericPolicyID(ec.in.Payload.PolicyID) {
		return record.StatusDuplicatePolicyID, true, nil
	}
	for _, sib := range siblings {
		if sib.Record.Status.PassedValidation() {
			return record.StatusDuplicatePolicyIDDiscarded, true, nil
		}
	}
	return record.StatusDuplicatePolicyID, true, nil
}

func ruleAddressShape(_ context.Context, ec *evalContext) (record.Status, bool, error) {
	p := ec.in.Payload
	if p.StreetAddress1 == "" || p.City == "" || p.State == "" || p.ZipCode == "" {
		return record.StatusInvalidAddress, true, nil
	}
	if !zipPattern.MatchString(p.ZipCode) {
		return record.StatusInvalidAddress, true, nil
	}
	return "", false, nil
}

func ruleNameLength(_ context.Context, ec *evalContext) (record.Status, bool, error) {
	p := ec.in.Payload
	if len(p.FirstName) > registry.MaxNameLength || len(p.LastName) > registry.MaxNameLength {
		return record.StatusInvalidName, true, nil
	}
	return "", false, nil
}

func ruleDeliverability(ctx context.Context, ec *evalContext) (record.Status, bool, error) {
	p := ec.in.Payload
	res, err := ec.deps.Verifier.Verify(ctx, addrverify.Query{
		StreetAddress1: p.StreetAddress1,
		StreetAddress2: p.StreetAddress2,
		City:           p.City,
		State:          p.State,
		ZipCode:        p.ZipCode,
	})
	if errors.Is(err, addrverify.ErrUnprocessableAddress) {
		return record.StatusInvalidAddress, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("deliverability check: %w", err)
	}
	if !res.Deliverable {
		return record.StatusUnshippableAddress, true, nil
	}
	return "", false, nil
}

func ruleBirthday(_ context.Context, ec *evalContext) (record.Status, bool, error) {
	born, err := ParseBirthday(ec.in.Payload.Birthday)
	if err != nil {
		return record.StatusInvalidBirthday, true, nil
	}
	if born.Year() > ec.cfg.MinorBirthYearCutoff {
		return record.StatusInvalidBirthday, true, nil
	}
	return "", false, nil
}

func ruleDemographicDuplicate(ctx context.Context, ec *evalContext) (record.Status, bool, error) {
	p := ec.in.Payload
	matches, err := ec.deps.Store.Find(ctx, record.IntakeFilter{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Birthday:  p.Birthday,
		ZipCode:   p.ZipCode,
	})
	if err != nil {
		return "", false, fmt.Errorf("query demographic duplicates: %w", err)
	}
	for _, m := range matches {
		if m.Record.ID == ec.in.Record.ID || m.Record.Status.OutOfDuplicateChecks() {
			continue
		}
		return record.StatusDuplicateDemographics, true, nil
	}
	return "", false, nil
}

func rulePolicyIDFormat(_ context.Context, ec *evalContext) (record.Status, bool, error) {
	if !policyIDPattern.MatchString(ec.in.Payload.PolicyID) {
		return record.StatusRequiresDiscovery, true, nil
	}
	return "", false, nil
}

func ruleAccept(ctx context.Context, ec *evalContext) (record.Status, bool, error) {
	ec.in.Payload.PolicyCarrier = ec.cfg.CanonicalCarrier
	if err := ec.deps.Store.UpdatePayload(ctx, ec.in); err != nil {
		return "", false, fmt.Errorf("stamp canonical carrier: %w", err)
	}
	return record.StatusReadyForSync, true, nil
}
