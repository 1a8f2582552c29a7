package fiscal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

func TestResolveRegisteredGetsA(t *testing.T) {
	ctx := context.Background()
	resolver := NewProfileResolver(registeredRegistry())

	profile, err := resolver.Resolve(ctx, RegimeRegistered, registeredCounterparty())
	require.NoError(t, err)
	require.Equal(t, codes.FacturaA, profile.InvoiceType)
	require.Equal(t, "A", profile.Letter)
	require.Equal(t, CondRegistered, profile.ConditionCode)
	require.True(t, profile.DiscriminateVAT)
	require.False(t, profile.Downgraded)
	require.Equal(t, codes.DocTypeCUIT, profile.DocTypeCode)
}

func TestResolveMonotributoCounterpartyGetsB(t *testing.T) {
	ctx := context.Background()
	registry := &fakeRegistry{statuses: map[string]*TaxStatus{
		"20301234567": {ConditionCode: CondMonotributo, ConditionLabel: "MONOTRIBUTO"},
	}}
	resolver := NewProfileResolver(registry)

	cp := Counterparty{DocTypeCode: codes.DocTypeCUIT, DocNumber: "20301234567"}
	profile, err := resolver.Resolve(ctx, RegimeRegistered, cp)
	require.NoError(t, err)
	require.Equal(t, codes.FacturaB, profile.InvoiceType)
	require.False(t, profile.DiscriminateVAT)
}

func TestResolveNotRegisteredDowngrades(t *testing.T) {
	ctx := context.Background()
	resolver := NewProfileResolver(&fakeRegistry{})

	cp := Counterparty{DocTypeCode: codes.DocTypeCUIT, DocNumber: "30999999999", ConditionLabel: "IVA RESPONSABLE INSCRIPTO"}
	profile, err := resolver.Resolve(ctx, RegimeRegistered, cp)
	require.NoError(t, err)
	require.True(t, profile.Downgraded)
	require.Equal(t, codes.DocTypeDNI, profile.DocTypeCode)
	require.Equal(t, CondFinalConsumer, profile.ConditionCode)
	require.Equal(t, "B", profile.Letter, "a stale cached label never overrides the registry answer")
}

func TestResolveNotRegisteredPersonalIDKeepsDocType(t *testing.T) {
	ctx := context.Background()
	resolver := NewProfileResolver(&fakeRegistry{})

	cp := Counterparty{DocTypeCode: codes.DocTypeDNI, DocNumber: "30123456"}
	profile, err := resolver.Resolve(ctx, RegimeRegistered, cp)
	require.NoError(t, err)
	require.False(t, profile.Downgraded, "a personal id was never a business id")
	require.Equal(t, codes.DocTypeDNI, profile.DocTypeCode)
	require.Equal(t, "B", profile.Letter)
}

func TestResolveRegistryFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("registry down")
	registry := &fakeRegistry{errs: map[string]error{"30500010912": boom}}
	resolver := NewProfileResolver(registry)

	_, err := resolver.Resolve(ctx, RegimeRegistered, registeredCounterparty())
	require.ErrorIs(t, err, boom)
}

func TestResolveNumericCodeWinsOverCachedLabel(t *testing.T) {
	ctx := context.Background()
	registry := &fakeRegistry{statuses: map[string]*TaxStatus{
		"30500010912": {ConditionCode: CondExempt, ConditionLabel: "IVA EXENTO"},
	}}
	resolver := NewProfileResolver(registry)

	cp := registeredCounterparty()
	cp.ConditionCode = CondRegistered
	cp.ConditionLabel = "IVA RESPONSABLE INSCRIPTO"

	profile, err := resolver.Resolve(ctx, RegimeRegistered, cp)
	require.NoError(t, err)
	require.Equal(t, CondExempt, profile.ConditionCode)
	require.Equal(t, "B", profile.Letter)
	require.False(t, profile.DiscriminateVAT)
}

func TestResolveMonotributoIssuerSkipsRegistry(t *testing.T) {
	ctx := context.Background()
	registry := registeredRegistry()
	resolver := NewProfileResolver(registry)

	profile, err := resolver.Resolve(ctx, RegimeMonotributo, Counterparty{DocTypeCode: codes.DocTypeDNI, DocNumber: "30123456"})
	require.NoError(t, err)
	require.Equal(t, codes.FacturaC, profile.InvoiceType)
	require.Equal(t, CondFinalConsumer, profile.ConditionCode)
	require.False(t, profile.DiscriminateVAT)
	require.Zero(t, registry.lookups)
}
