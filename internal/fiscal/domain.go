package fiscal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

// State enumerates the invoice lifecycle states.
type State string

const (
	StateDraft      State = "DRAFT"
	StateAuthorized State = "AUTHORIZED"
	StateRejected   State = "REJECTED"
	StateVoided     State = "VOIDED"
)

// Counterparty is the receiving party as declared on the voucher.
type Counterparty struct {
	DocTypeCode    int
	DocNumber      string
	ConditionCode  int
	ConditionLabel string
	Name           string
	Address        string
}

// LineItem is one commercial line on an invoice.
type LineItem struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	GrossAmount decimal.Decimal
	Discount    decimal.Decimal
	NetAmount   decimal.Decimal
	VATRate     decimal.Decimal
	VATAmount   decimal.Decimal
	Total       decimal.Decimal
}

// VATEntry is one row of the per-rate VAT breakdown.
type VATEntry struct {
	RateCode int
	Rate     decimal.Decimal
	Base     decimal.Decimal
	Amount   decimal.Decimal
}

// Tribute is a non-VAT tax carried on the voucher.
type Tribute struct {
	Code        int
	Description string
	Base        decimal.Decimal
	Amount      decimal.Decimal
}

// Authorization holds the artifacts returned by the authority on approval.
type Authorization struct {
	CAE          string
	CAEExpiry    time.Time
	Sequence     int64
	AuthorizedAt time.Time
	Barcode      string
	Observations []string
}

// Empty reports whether no authorization was granted.
func (a Authorization) Empty() bool {
	return a.CAE == ""
}

// DocumentReference points a credit or debit note at the voucher it adjusts.
type DocumentReference struct {
	TypeCode    int
	PointOfSale int
	Sequence    int64
}

// TransitionEntry is one audit row of the invoice state history.
type TransitionEntry struct {
	From   State
	To     State
	Actor  string
	Reason string
	At     time.Time
}

// Invoice is the central fiscal entity. Amounts are decimals in the invoice
// currency; GrandTotal must always equal NetTaxed+NetUntaxed+Exempt+VATTotal+
// TributeTotal to the cent.
type Invoice struct {
	ID          uuid.UUID
	Type        codes.InvoiceType
	PointOfSale int

	IssuerCUIT    string
	IssuerName    string
	IssuerAddress string
	IssuerRegime  Regime

	Counterparty Counterparty

	Lines        []LineItem
	NetTaxed     decimal.Decimal
	NetUntaxed   decimal.Decimal
	Exempt       decimal.Decimal
	VATTotal     decimal.Decimal
	TributeTotal decimal.Decimal
	GrandTotal   decimal.Decimal
	VATBreakdown []VATEntry
	Tributes     []Tribute

	// VATApplied mirrors the sale-time decision to charge VAT; discrimination
	// on the document additionally requires the resolved profile to allow it.
	VATApplied bool

	State            State
	Authorization    Authorization
	RejectionReasons []string
	VoidReason       string
	VoidedAt         time.Time

	// Reference is set on credit/debit notes only and points at the original.
	Reference *DocumentReference
	// OriginalID links a note back to the invoice it adjusts.
	OriginalID uuid.UUID
	// SaleID links back to the originating sale, if any.
	SaleID uuid.UUID

	History []TransitionEntry

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormattedNumber renders the human document number as
// zero-padded point of sale (5) dash zero-padded sequence (8).
func (inv *Invoice) FormattedNumber() string {
	return FormatDocumentNumber(inv.PointOfSale, inv.Authorization.Sequence)
}

// FormatDocumentNumber renders PPPPP-NNNNNNNN.
func FormatDocumentNumber(pointOfSale int, sequence int64) string {
	return fmt.Sprintf("%05d-%08d", pointOfSale, sequence)
}

// IsNote reports whether the invoice is a credit or debit note.
func (inv *Invoice) IsNote() bool {
	return codes.IsCreditNote(inv.Type) || codes.IsDebitNote(inv.Type)
}

// CheckTotals verifies the grand-total identity.
func (inv *Invoice) CheckTotals() error {
	sum := inv.NetTaxed.Add(inv.NetUntaxed).Add(inv.Exempt).Add(inv.VATTotal).Add(inv.TributeTotal)
	if !sum.Equal(inv.GrandTotal) {
		return fmt.Errorf("fiscal: grand total %s does not match component sum %s", inv.GrandTotal, sum)
	}
	return nil
}
