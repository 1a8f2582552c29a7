package fiscal

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

// Regime is the issuer's own declared tax regime.
type Regime string

const (
	RegimeRegistered  Regime = "RESPONSABLE_INSCRIPTO"
	RegimeMonotributo Regime = "MONOTRIBUTO"
	RegimeExempt      Regime = "EXENTO"
)

// Counterparty tax-condition codes as published by the authority.
const (
	CondRegistered    = 1
	CondExempt        = 4
	CondFinalConsumer = 5
	CondMonotributo   = 6
	CondUncategorized = 7
	CondForeignClient = 9
	CondNotReached    = 15
)

// TaxStatus is the authority registry's answer for one tax identifier.
type TaxStatus struct {
	ConditionCode  int
	ConditionLabel string
}

// ErrNotRegistered is returned by RegistryLookup when the identifier is
// absent from the authority's registry. It is an expected outcome, not a
// failure: the resolver downgrades the party to personal-id rules.
var ErrNotRegistered = errors.New("fiscal: tax id not registered")

// RegistryLookup queries the authority's taxpayer registry.
type RegistryLookup interface {
	TaxStatus(ctx context.Context, taxID string) (*TaxStatus, error)
}

// TaxProfile is the resolved fiscal classification for one submission.
type TaxProfile struct {
	InvoiceType     codes.InvoiceType
	Letter          string
	ConditionCode   int
	ConditionLabel  string
	DiscriminateVAT bool
	DocTypeCode     int
	DocNumber       string
	// Downgraded is set when a business id had to be re-declared under
	// personal-id rules because the registry does not know it.
	Downgraded bool
}

// ProfileResolver determines the invoice letter, counterparty condition and
// VAT treatment for a submission. It is invoked fresh for every invoice: the
// counterparty's registered status can change between transactions, so a
// condition cached on the customer record is never trusted for submission.
type ProfileResolver struct {
	registry RegistryLookup
	group    singleflight.Group
}

// NewProfileResolver builds a ProfileResolver.
func NewProfileResolver(registry RegistryLookup) *ProfileResolver {
	return &ProfileResolver{registry: registry}
}

// Resolve classifies the counterparty for the given issuer regime. A registry
// "not found" downgrades the party to end-consumer, personal-id rules; any
// other registry failure is surfaced and the invoice stays a draft.
func (r *ProfileResolver) Resolve(ctx context.Context, issuerRegime Regime, cp Counterparty) (*TaxProfile, error) {
	profile := &TaxProfile{
		DocTypeCode:    cp.DocTypeCode,
		DocNumber:      cp.DocNumber,
		ConditionCode:  cp.ConditionCode,
		ConditionLabel: cp.ConditionLabel,
	}

	// A monotributo issuer emits C for everyone and never itemizes VAT.
	if issuerRegime == RegimeMonotributo || issuerRegime == RegimeExempt {
		profile.Letter = "C"
		if profile.ConditionCode == 0 {
			profile.ConditionCode = CondFinalConsumer
			profile.ConditionLabel = "CONSUMIDOR FINAL"
		}
		return r.finish(profile)
	}

	status, err := r.lookup(ctx, cp.DocNumber)
	switch {
	case errors.Is(err, ErrNotRegistered):
		profile.Downgraded = cp.DocTypeCode == codes.DocTypeCUIT || cp.DocTypeCode == codes.DocTypeCUIL
		if profile.Downgraded {
			profile.DocTypeCode = codes.DocTypeDNI
		}
		profile.ConditionCode = CondFinalConsumer
		profile.ConditionLabel = "CONSUMIDOR FINAL"
	case err != nil:
		return nil, fmt.Errorf("fiscal: resolve tax profile for %s: %w", cp.DocNumber, err)
	default:
		// The numeric code from the registry always wins over any cached
		// free-text label: the authority consumes the numeric form.
		if status.ConditionCode != 0 {
			profile.ConditionCode = status.ConditionCode
			profile.ConditionLabel = status.ConditionLabel
		} else if status.ConditionLabel != "" {
			profile.ConditionLabel = status.ConditionLabel
		}
	}

	if profile.ConditionCode == CondRegistered {
		profile.Letter = "A"
		profile.DiscriminateVAT = true
	} else {
		profile.Letter = "B"
	}
	return r.finish(profile)
}

func (r *ProfileResolver) finish(profile *TaxProfile) (*TaxProfile, error) {
	typ, err := codes.InvoiceForLetter(profile.Letter)
	if err != nil {
		return nil, err
	}
	profile.InvoiceType = typ
	return profile, nil
}

// lookup collapses concurrent registry queries for the same tax id into one
// in-flight call. Results are not cached beyond the call.
func (r *ProfileResolver) lookup(ctx context.Context, taxID string) (*TaxStatus, error) {
	v, err, _ := r.group.Do(taxID, func() (any, error) {
		return r.registry.TaxStatus(ctx, taxID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TaxStatus), nil
}
