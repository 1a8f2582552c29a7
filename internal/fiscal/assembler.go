package fiscal

import (
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

// IssuerConfig is the issuing party's fiscal identity, fixed at startup.
type IssuerConfig struct {
	CUIT        string
	Name        string
	Address     string
	Regime      Regime
	PointOfSale int
}

// SubmissionItem is one line in the wire payload.
type SubmissionItem struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	NetAmount   decimal.Decimal
	VATAmount   decimal.Decimal
	Total       decimal.Decimal
}

// SubmissionVAT is one per-rate VAT row in the wire payload.
type SubmissionVAT struct {
	RateCode int
	Base     decimal.Decimal
	Amount   decimal.Decimal
}

// SubmissionTribute is one non-VAT tax row in the wire payload.
type SubmissionTribute struct {
	Code   int
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// Submission is the canonical payload handed to the authorization gateway.
type Submission struct {
	IssuerCUIT  string
	PointOfSale int
	TypeCode    int
	Letter      string

	DocTypeCode int
	DocNumber   string
	PartyName   string

	IssueDate time.Time

	NetTaxed     decimal.Decimal
	NetUntaxed   decimal.Decimal
	Exempt       decimal.Decimal
	VATTotal     decimal.Decimal
	TributeTotal decimal.Decimal
	GrandTotal   decimal.Decimal

	// DiscriminateVAT controls whether per-line and per-rate VAT rows are
	// carried on the document.
	DiscriminateVAT bool

	Items      []SubmissionItem
	VAT        []SubmissionVAT
	Tributes   []SubmissionTribute
	References []DocumentReference
}

// Assembler builds authority submissions from draft invoices.
type Assembler struct {
	issuer IssuerConfig
}

// NewAssembler builds an Assembler for the configured issuer.
func NewAssembler(issuer IssuerConfig) *Assembler {
	return &Assembler{issuer: issuer}
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName strips diacritics so names survive the authority's restricted
// character set.
func foldName(s string) string {
	out, _, err := transform.String(asciiFold, s)
	if err != nil {
		return s
	}
	return out
}

// AllocateLineVAT distributes an invoice-level VAT total across lines in
// proportion to each line's share of the summed net. The allocation works
// from the already-known aggregate down, never from per-line rates up: once
// rounding and partially-taxed sales coexist the two do not agree. Any
// rounding remainder lands on the last line so the column sums exactly.
func AllocateLineVAT(lines []LineItem, vatTotal decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	if len(lines) == 0 || vatTotal.IsZero() {
		return out
	}
	netSum := decimal.Zero
	for _, l := range lines {
		netSum = netSum.Add(l.NetAmount)
	}
	if netSum.IsZero() {
		out[len(out)-1] = vatTotal
		return out
	}
	allocated := decimal.Zero
	for i, l := range lines {
		if i == len(lines)-1 {
			out[i] = vatTotal.Sub(allocated)
			break
		}
		share := l.NetAmount.Mul(vatTotal).Div(netSum).Round(2)
		out[i] = share
		allocated = allocated.Add(share)
	}
	return out
}

// Build assembles the wire payload for inv using the resolved profile.
// The invoice's per-line VAT amounts are populated as a side effect so the
// stored document matches what was submitted.
func (a *Assembler) Build(inv *Invoice, profile *TaxProfile) (*Submission, error) {
	typeCode, codeErr := codes.Code(inv.Type)

	discriminate := inv.VATApplied && profile.DiscriminateVAT

	itemVAT := make([]decimal.Decimal, len(inv.Lines))
	if discriminate {
		itemVAT = AllocateLineVAT(inv.Lines, inv.VATTotal)
	}

	sub := &Submission{
		IssuerCUIT:      a.issuer.CUIT,
		PointOfSale:     inv.PointOfSale,
		TypeCode:        typeCode,
		Letter:          profile.Letter,
		DocTypeCode:     profile.DocTypeCode,
		DocNumber:       profile.DocNumber,
		PartyName:       foldName(inv.Counterparty.Name),
		IssueDate:       time.Now(),
		NetTaxed:        inv.NetTaxed,
		NetUntaxed:      inv.NetUntaxed,
		Exempt:          inv.Exempt,
		TributeTotal:    inv.TributeTotal,
		GrandTotal:      inv.GrandTotal,
		DiscriminateVAT: discriminate,
	}

	for i := range inv.Lines {
		line := &inv.Lines[i]
		line.VATAmount = itemVAT[i]
		sub.Items = append(sub.Items, SubmissionItem{
			Code:        line.Code,
			Description: foldName(line.Description),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			NetAmount:   line.NetAmount,
			VATAmount:   itemVAT[i],
			Total:       line.Total,
		})
	}

	if discriminate {
		sub.VATTotal = inv.VATTotal
		for _, entry := range inv.VATBreakdown {
			sub.VAT = append(sub.VAT, SubmissionVAT{
				RateCode: entry.RateCode,
				Base:     entry.Base,
				Amount:   entry.Amount,
			})
		}
	}

	for _, tr := range inv.Tributes {
		sub.Tributes = append(sub.Tributes, SubmissionTribute{
			Code:   tr.Code,
			Base:   tr.Base,
			Amount: tr.Amount,
		})
	}

	if inv.Reference != nil {
		sub.References = append(sub.References, *inv.Reference)
	}

	if err := a.validate(inv, sub, codeErr); err != nil {
		return nil, err
	}
	return sub, nil
}

// validate collects every locally detectable problem before any network call.
func (a *Assembler) validate(inv *Invoice, sub *Submission, codeErr error) error {
	var problems []string

	if codeErr != nil {
		problems = append(problems, codeErr.Error())
	}
	if sub.DocNumber == "" {
		problems = append(problems, "counterparty document number is empty")
	}
	if !sub.GrandTotal.IsPositive() {
		problems = append(problems, "grand total must be greater than zero")
	}
	if len(sub.Items) == 0 {
		problems = append(problems, "invoice has no line items")
	}
	if inv.IsNote() && len(sub.References) == 0 {
		problems = append(problems, "credit/debit note is missing its referenced document")
	}
	if sub.DiscriminateVAT {
		breakdown := decimal.Zero
		for _, v := range sub.VAT {
			breakdown = breakdown.Add(v.Amount)
		}
		if !breakdown.Equal(sub.VATTotal) {
			problems = append(problems, "VAT breakdown does not sum to the VAT total")
		}
	}
	if err := inv.CheckTotals(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
