package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleLine is one sold item, total already net of its discount.
type SaleLine struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Sale is a recorded sale, the usual source for invoice drafts.
type Sale struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Lines      []SaleLine
	Net        decimal.Decimal
	VAT        decimal.Decimal
	Total      decimal.Decimal
	// VATApplied records whether VAT was charged at sale time. The invoice
	// only itemizes VAT when this was set AND the counterparty's resolved
	// condition allows discrimination.
	VATApplied bool
	CreatedAt  time.Time
}

// SaleInput records a new sale.
type SaleInput struct {
	CustomerID uuid.UUID
	Lines      []SaleLine
	Net        decimal.Decimal
	VAT        decimal.Decimal
	Total      decimal.Decimal
	VATApplied bool
}
