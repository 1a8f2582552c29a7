package codes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeRoundTrip(t *testing.T) {
	all := []InvoiceType{
		FacturaA, FacturaB, FacturaC,
		NotaDebitoA, NotaDebitoB, NotaDebitoC,
		NotaCreditoA, NotaCreditoB, NotaCreditoC,
	}
	for _, typ := range all {
		code, err := Code(typ)
		require.NoError(t, err)
		back, err := FromCode(code)
		require.NoError(t, err)
		require.Equal(t, typ, back)
	}
}

func TestExpectedCodes(t *testing.T) {
	expect := map[InvoiceType]int{
		FacturaA:     1,
		NotaDebitoA:  2,
		NotaCreditoA: 3,
		FacturaB:     6,
		NotaDebitoB:  7,
		NotaCreditoB: 8,
		FacturaC:     11,
		NotaDebitoC:  12,
		NotaCreditoC: 13,
	}
	for typ, want := range expect {
		got, err := Code(typ)
		require.NoError(t, err)
		require.Equal(t, want, got, "type %s", typ)
	}
}

func TestNoteOffsets(t *testing.T) {
	for _, typ := range []InvoiceType{FacturaA, FacturaB, FacturaC} {
		base, err := Code(typ)
		require.NoError(t, err)

		nd, err := DebitNoteFor(typ)
		require.NoError(t, err)
		ndCode, err := Code(nd)
		require.NoError(t, err)
		require.Equal(t, base+1, ndCode)

		nc, err := CreditNoteFor(typ)
		require.NoError(t, err)
		ncCode, err := Code(nc)
		require.NoError(t, err)
		require.Equal(t, base+2, ncCode)
	}
}

func TestCreditNoteForNote(t *testing.T) {
	// Mirroring a credit or debit note still lands on the letter's credit note.
	nc, err := CreditNoteFor(NotaDebitoB)
	require.NoError(t, err)
	require.Equal(t, NotaCreditoB, nc)
}

func TestUnknownType(t *testing.T) {
	_, err := Code(InvoiceType("FACTURA_X"))
	require.Error(t, err)

	_, err = FromCode(99)
	require.Error(t, err)

	_, err = Letter(InvoiceType(""))
	require.Error(t, err)
}

func TestDocTypes(t *testing.T) {
	require.Equal(t, "CUIT", DocTypeLabel(80))
	require.Equal(t, "CUIL", DocTypeLabel(86))
	require.Equal(t, "DNI", DocTypeLabel(96))
	require.Equal(t, "PASSPORT", DocTypeLabel(94))
	require.Equal(t, "UNSPECIFIED", DocTypeLabel(99))

	// Unknown external codes fall back to DNI.
	require.Equal(t, "DNI", DocTypeLabel(42))

	code, err := DocTypeCode("CUIT")
	require.NoError(t, err)
	require.Equal(t, 80, code)

	_, err = DocTypeCode("MYSTERY")
	require.Error(t, err)
}

func TestLetter(t *testing.T) {
	l, err := Letter(NotaCreditoC)
	require.NoError(t, err)
	require.Equal(t, "C", l)

	inv, err := InvoiceForLetter("B")
	require.NoError(t, err)
	require.Equal(t, FacturaB, inv)

	_, err = InvoiceForLetter("Z")
	require.Error(t, err)
}
