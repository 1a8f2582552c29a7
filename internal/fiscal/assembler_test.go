package fiscal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

func TestAllocateLineVATProportional(t *testing.T) {
	lines := []LineItem{
		{NetAmount: dec("600")},
		{NetAmount: dec("400")},
	}
	out := AllocateLineVAT(lines, dec("210"))
	require.Len(t, out, 2)
	require.True(t, out[0].Equal(dec("126")), "got %s", out[0])
	require.True(t, out[1].Equal(dec("84")), "got %s", out[1])
}

func TestAllocateLineVATRemainderOnLastLine(t *testing.T) {
	lines := []LineItem{
		{NetAmount: dec("33.33")},
		{NetAmount: dec("33.33")},
		{NetAmount: dec("33.34")},
	}
	vat := dec("21")
	out := AllocateLineVAT(lines, vat)

	sum := decimal.Zero
	for _, v := range out {
		sum = sum.Add(v)
	}
	require.True(t, sum.Equal(vat), "allocations sum %s, want %s", sum, vat)
	// Earlier shares are plain rounded values; the last one absorbs the rest.
	require.True(t, out[0].Equal(dec("7")), "got %s", out[0])
	require.True(t, out[1].Equal(dec("7")), "got %s", out[1])
	require.True(t, out[2].Equal(dec("7")), "got %s", out[2])
}

func TestAllocateLineVATZeroNetFallsToLast(t *testing.T) {
	lines := []LineItem{{NetAmount: decimal.Zero}, {NetAmount: decimal.Zero}}
	out := AllocateLineVAT(lines, dec("10"))
	require.True(t, out[0].IsZero())
	require.True(t, out[1].Equal(dec("10")))
}

func TestBuildDiscriminatesOnlyWhenBothAgree(t *testing.T) {
	asm := NewAssembler(testIssuer)

	inv := draftForAssembler()
	profile := &TaxProfile{
		InvoiceType:     codes.FacturaA,
		Letter:          "A",
		ConditionCode:   CondRegistered,
		DiscriminateVAT: true,
		DocTypeCode:     codes.DocTypeCUIT,
		DocNumber:       "30500010912",
	}

	sub, err := asm.Build(inv, profile)
	require.NoError(t, err)
	require.True(t, sub.DiscriminateVAT)
	require.Len(t, sub.VAT, 1)
	require.True(t, sub.VATTotal.Equal(dec("210")))

	// Same profile but the sale never applied VAT: nothing to itemize.
	inv2 := draftForAssembler()
	inv2.VATApplied = false
	inv2.VATTotal = decimal.Zero
	inv2.VATBreakdown = nil
	inv2.NetTaxed = dec("1210")
	sub2, err := asm.Build(inv2, profile)
	require.NoError(t, err)
	require.False(t, sub2.DiscriminateVAT)
	require.Empty(t, sub2.VAT)
	require.True(t, sub2.VATTotal.IsZero())
}

func TestBuildFoldsDiacritics(t *testing.T) {
	asm := NewAssembler(testIssuer)
	inv := draftForAssembler()
	inv.Counterparty.Name = "Almacén Ramírez Ltda. Ñandú"
	inv.Lines[0].Description = "Artículos de almacén"

	profile := &TaxProfile{InvoiceType: codes.FacturaB, Letter: "B", DocTypeCode: codes.DocTypeCUIT, DocNumber: "30500010912"}
	sub, err := asm.Build(inv, profile)
	require.NoError(t, err)
	require.Equal(t, "Almacen Ramirez Ltda. Nandu", sub.PartyName)
	require.Equal(t, "Articulos de almacen", sub.Items[0].Description)
}

func TestBuildCollectsAllProblems(t *testing.T) {
	asm := NewAssembler(testIssuer)
	inv := &Invoice{
		Type:       codes.FacturaB,
		GrandTotal: decimal.Zero,
	}
	profile := &TaxProfile{InvoiceType: codes.FacturaB, Letter: "B"}

	_, err := asm.Build(inv, profile)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.GreaterOrEqual(t, len(verr.Problems), 3, "every local problem is reported at once: %v", verr.Problems)
}

func TestBuildNoteRequiresReference(t *testing.T) {
	asm := NewAssembler(testIssuer)
	inv := draftForAssembler()
	inv.Type = codes.NotaCreditoA
	inv.Reference = nil

	profile := &TaxProfile{InvoiceType: codes.NotaCreditoA, Letter: "A", DocTypeCode: codes.DocTypeCUIT, DocNumber: "30500010912"}
	_, err := asm.Build(inv, profile)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "referenced document")
}

func TestBuildPopulatesLineVATOnInvoice(t *testing.T) {
	asm := NewAssembler(testIssuer)
	inv := draftForAssembler()
	profile := &TaxProfile{
		InvoiceType:     codes.FacturaA,
		Letter:          "A",
		DiscriminateVAT: true,
		DocTypeCode:     codes.DocTypeCUIT,
		DocNumber:       "30500010912",
	}

	_, err := asm.Build(inv, profile)
	require.NoError(t, err)
	require.True(t, inv.Lines[0].VATAmount.Equal(dec("126")), "the stored document carries what was submitted")
	require.True(t, inv.Lines[1].VATAmount.Equal(dec("84")))
}

func draftForAssembler() *Invoice {
	return &Invoice{
		Type:         codes.FacturaA,
		PointOfSale:  testIssuer.PointOfSale,
		IssuerCUIT:   testIssuer.CUIT,
		Counterparty: registeredCounterparty(),
		Lines: []LineItem{
			{Description: "Grain hopper rental", Quantity: dec("1"), UnitPrice: dec("600"), NetAmount: dec("600"), VATRate: dec("0.21"), Total: dec("726")},
			{Description: "Freight surcharge", Quantity: dec("1"), UnitPrice: dec("400"), NetAmount: dec("400"), VATRate: dec("0.21"), Total: dec("484")},
		},
		NetTaxed:   dec("1000"),
		VATTotal:   dec("210"),
		GrandTotal: dec("1210"),
		VATBreakdown: []VATEntry{
			{RateCode: 5, Rate: dec("0.21"), Base: dec("1000"), Amount: dec("210")},
		},
		VATApplied: true,
		State:      StateDraft,
	}
}
