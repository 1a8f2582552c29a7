// Package codes holds the fixed mappings between the tax authority's numeric
// voucher codes and the internal symbolic invoice types.
package codes

import "fmt"

// InvoiceType enumerates the fiscal voucher variants.
type InvoiceType string

const (
	FacturaA InvoiceType = "FACTURA_A"
	FacturaB InvoiceType = "FACTURA_B"
	FacturaC InvoiceType = "FACTURA_C"

	NotaDebitoA InvoiceType = "NOTA_DEBITO_A"
	NotaDebitoB InvoiceType = "NOTA_DEBITO_B"
	NotaDebitoC InvoiceType = "NOTA_DEBITO_C"

	NotaCreditoA InvoiceType = "NOTA_CREDITO_A"
	NotaCreditoB InvoiceType = "NOTA_CREDITO_B"
	NotaCreditoC InvoiceType = "NOTA_CREDITO_C"
)

// Offsets from a letter's base voucher code. The authority assigns the debit
// note as base+1 and the credit note as base+2 for every letter; new letters
// must keep that arithmetic.
const (
	debitOffset  = 1
	creditOffset = 2
)

// base voucher code per letter (the standard invoice code).
var letterBase = map[string]int{
	"A": 1,
	"B": 6,
	"C": 11,
}

// Document identifier types accepted by the authority.
const (
	DocTypeCUIT        = 80
	DocTypeCUIL        = 86
	DocTypePassport    = 94
	DocTypeDNI         = 96
	DocTypeUnspecified = 99
)

var docTypeLabels = map[int]string{
	DocTypeCUIT:        "CUIT",
	DocTypeCUIL:        "CUIL",
	DocTypePassport:    "PASSPORT",
	DocTypeDNI:         "DNI",
	DocTypeUnspecified: "UNSPECIFIED",
}

var docTypeCodes = map[string]int{
	"CUIT":        DocTypeCUIT,
	"CUIL":        DocTypeCUIL,
	"PASSPORT":    DocTypePassport,
	"DNI":         DocTypeDNI,
	"UNSPECIFIED": DocTypeUnspecified,
}

// Kind classifies a voucher within its letter family.
type Kind int

const (
	KindInvoice Kind = iota
	KindDebitNote
	KindCreditNote
)

type typeInfo struct {
	letter string
	kind   Kind
}

var types = map[InvoiceType]typeInfo{
	FacturaA:     {"A", KindInvoice},
	FacturaB:     {"B", KindInvoice},
	FacturaC:     {"C", KindInvoice},
	NotaDebitoA:  {"A", KindDebitNote},
	NotaDebitoB:  {"B", KindDebitNote},
	NotaDebitoC:  {"C", KindDebitNote},
	NotaCreditoA: {"A", KindCreditNote},
	NotaCreditoB: {"B", KindCreditNote},
	NotaCreditoC: {"C", KindCreditNote},
}

// Code returns the authority's numeric voucher code for t.
func Code(t InvoiceType) (int, error) {
	info, ok := types[t]
	if !ok {
		return 0, fmt.Errorf("codes: unknown invoice type %q", t)
	}
	base := letterBase[info.letter]
	switch info.kind {
	case KindDebitNote:
		return base + debitOffset, nil
	case KindCreditNote:
		return base + creditOffset, nil
	default:
		return base, nil
	}
}

// FromCode resolves the internal invoice type for a numeric voucher code.
func FromCode(code int) (InvoiceType, error) {
	for t, info := range types {
		base := letterBase[info.letter]
		switch info.kind {
		case KindInvoice:
			if code == base {
				return t, nil
			}
		case KindDebitNote:
			if code == base+debitOffset {
				return t, nil
			}
		case KindCreditNote:
			if code == base+creditOffset {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("codes: unknown voucher code %d", code)
}

// Letter returns the invoice letter (A, B or C) for t.
func Letter(t InvoiceType) (string, error) {
	info, ok := types[t]
	if !ok {
		return "", fmt.Errorf("codes: unknown invoice type %q", t)
	}
	return info.letter, nil
}

// KindOf reports whether t is a standard invoice, debit note or credit note.
func KindOf(t InvoiceType) (Kind, error) {
	info, ok := types[t]
	if !ok {
		return 0, fmt.Errorf("codes: unknown invoice type %q", t)
	}
	return info.kind, nil
}

// InvoiceForLetter returns the standard invoice type for a letter.
func InvoiceForLetter(letter string) (InvoiceType, error) {
	base, ok := letterBase[letter]
	if !ok {
		return "", fmt.Errorf("codes: unknown invoice letter %q", letter)
	}
	return FromCode(base)
}

// CreditNoteFor returns the credit-note type mirroring t's letter.
func CreditNoteFor(t InvoiceType) (InvoiceType, error) {
	info, ok := types[t]
	if !ok {
		return "", fmt.Errorf("codes: unknown invoice type %q", t)
	}
	return FromCode(letterBase[info.letter] + creditOffset)
}

// DebitNoteFor returns the debit-note type mirroring t's letter.
func DebitNoteFor(t InvoiceType) (InvoiceType, error) {
	info, ok := types[t]
	if !ok {
		return "", fmt.Errorf("codes: unknown invoice type %q", t)
	}
	return FromCode(letterBase[info.letter] + debitOffset)
}

// IsCreditNote reports whether t is one of the credit-note variants.
func IsCreditNote(t InvoiceType) bool {
	info, ok := types[t]
	return ok && info.kind == KindCreditNote
}

// IsDebitNote reports whether t is one of the debit-note variants.
func IsDebitNote(t InvoiceType) bool {
	info, ok := types[t]
	return ok && info.kind == KindDebitNote
}

// DocTypeLabel maps an authority document-type code to its label. Unknown
// codes coming back from the authority are treated as DNI rather than
// rejected, since responses occasionally carry codes newer than this table.
func DocTypeLabel(code int) string {
	if label, ok := docTypeLabels[code]; ok {
		return label
	}
	return docTypeLabels[DocTypeDNI]
}

// DocTypeCode maps an internal document-type label to the authority's code.
// Unlike DocTypeLabel this direction fails hard: an unknown label in our own
// data is a bug, not an authority quirk.
func DocTypeCode(label string) (int, error) {
	code, ok := docTypeCodes[label]
	if !ok {
		return 0, fmt.Errorf("codes: unknown document type label %q", label)
	}
	return code, nil
}
