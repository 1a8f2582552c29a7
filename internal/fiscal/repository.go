package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

// Repository provides PostgreSQL backed persistence for fiscal invoices. The
// commercial document (lines, VAT breakdown, history) is stored as JSONB;
// lifecycle fields live in columns so state and linkage queries stay cheap.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// amountsDoc groups the aggregate amounts for the JSONB column.
type amountsDoc struct {
	NetTaxed     decimal.Decimal `json:"net_taxed"`
	NetUntaxed   decimal.Decimal `json:"net_untaxed"`
	Exempt       decimal.Decimal `json:"exempt"`
	VATTotal     decimal.Decimal `json:"vat_total"`
	TributeTotal decimal.Decimal `json:"tribute_total"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
}

const invoiceColumns = `
	id, type, point_of_sale, state, version,
	issuer_cuit, issuer_name, issuer_address, issuer_regime,
	counterparty, amounts, lines, vat_breakdown, tributes,
	vat_applied, auth, cae_expiry, rejection_reasons,
	void_reason, voided_at, reference, original_id, sale_id,
	history, created_at, updated_at`

// Create inserts a new invoice at version 1.
func (r *Repository) Create(ctx context.Context, inv *Invoice) error {
	docs, err := marshalDocs(inv)
	if err != nil {
		return err
	}
	inv.Version = 1
	query := `
		INSERT INTO fiscal_invoices (
			id, type, point_of_sale, state, version,
			issuer_cuit, issuer_name, issuer_address, issuer_regime,
			counterparty, amounts, lines, vat_breakdown, tributes,
			vat_applied, auth, cae_expiry, rejection_reasons,
			void_reason, voided_at, reference, original_id, sale_id,
			history, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`
	_, err = r.pool.Exec(ctx, query, r.args(inv, docs)...)
	if err != nil {
		return fmt.Errorf("fiscal: insert invoice: %w", err)
	}
	return nil
}

// Get loads one invoice by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM fiscal_invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// Update persists the invoice under an optimistic version check. When the
// stored version moved underneath us the caller gets ErrVersionConflict: a
// concurrent transition won and this attempt must observe the new state.
func (r *Repository) Update(ctx context.Context, inv *Invoice) error {
	docs, err := marshalDocs(inv)
	if err != nil {
		return err
	}
	previous := inv.Version
	inv.Version++
	query := `
		UPDATE fiscal_invoices SET
			type = $2, point_of_sale = $3, state = $4, version = $5,
			issuer_cuit = $6, issuer_name = $7, issuer_address = $8, issuer_regime = $9,
			counterparty = $10, amounts = $11, lines = $12, vat_breakdown = $13, tributes = $14,
			vat_applied = $15, auth = $16, cae_expiry = $17, rejection_reasons = $18,
			void_reason = $19, voided_at = $20, reference = $21, original_id = $22, sale_id = $23,
			history = $24, created_at = $25, updated_at = $26
		WHERE id = $1 AND version = $27`
	args := append(r.args(inv, docs), previous)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		inv.Version = previous
		return fmt.Errorf("fiscal: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		inv.Version = previous
		return ErrVersionConflict
	}
	return nil
}

// ListCreditNotes returns every credit note linked to an original invoice,
// regardless of state. Balance computations filter by state themselves.
func (r *Repository) ListCreditNotes(ctx context.Context, originalID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM fiscal_invoices WHERE original_id = $1 ORDER BY created_at`, originalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// ListByState returns invoices in a given lifecycle state.
func (r *Repository) ListByState(ctx context.Context, state State, limit, offset int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM fiscal_invoices WHERE state = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, state, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// ListExpiringCAE returns authorized invoices whose CAE expires before the
// cutoff, for the expiry scan job.
func (r *Repository) ListExpiringCAE(ctx context.Context, before time.Time) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM fiscal_invoices WHERE state = $1 AND cae_expiry IS NOT NULL AND cae_expiry <= $2 ORDER BY cae_expiry`, StateAuthorized, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

type docSet struct {
	counterparty []byte
	amounts      []byte
	lines        []byte
	vat          []byte
	tributes     []byte
	auth         []byte
	reasons      []byte
	reference    []byte
	history      []byte
}

func marshalDocs(inv *Invoice) (*docSet, error) {
	var d docSet
	var err error
	marshal := func(dst *[]byte, v any) {
		if err != nil {
			return
		}
		*dst, err = json.Marshal(v)
	}
	marshal(&d.counterparty, inv.Counterparty)
	marshal(&d.amounts, amountsDoc{
		NetTaxed:     inv.NetTaxed,
		NetUntaxed:   inv.NetUntaxed,
		Exempt:       inv.Exempt,
		VATTotal:     inv.VATTotal,
		TributeTotal: inv.TributeTotal,
		GrandTotal:   inv.GrandTotal,
	})
	marshal(&d.lines, inv.Lines)
	marshal(&d.vat, inv.VATBreakdown)
	marshal(&d.tributes, inv.Tributes)
	marshal(&d.auth, inv.Authorization)
	marshal(&d.reasons, inv.RejectionReasons)
	marshal(&d.history, inv.History)
	if inv.Reference != nil {
		marshal(&d.reference, inv.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: marshal invoice documents: %w", err)
	}
	return &d, nil
}

func (r *Repository) args(inv *Invoice, d *docSet) []any {
	var caeExpiry, voidedAt pgtype.Timestamptz
	if !inv.Authorization.CAEExpiry.IsZero() {
		caeExpiry = pgtype.Timestamptz{Time: inv.Authorization.CAEExpiry, Valid: true}
	}
	if !inv.VoidedAt.IsZero() {
		voidedAt = pgtype.Timestamptz{Time: inv.VoidedAt, Valid: true}
	}
	var originalID, saleID pgtype.UUID
	if inv.OriginalID != uuid.Nil {
		originalID = pgtype.UUID{Bytes: inv.OriginalID, Valid: true}
	}
	if inv.SaleID != uuid.Nil {
		saleID = pgtype.UUID{Bytes: inv.SaleID, Valid: true}
	}
	return []any{
		inv.ID, string(inv.Type), inv.PointOfSale, string(inv.State), inv.Version,
		inv.IssuerCUIT, inv.IssuerName, inv.IssuerAddress, string(inv.IssuerRegime),
		d.counterparty, d.amounts, d.lines, d.vat, d.tributes,
		inv.VATApplied, d.auth, caeExpiry, d.reasons,
		inv.VoidReason, voidedAt, d.reference, originalID, saleID,
		d.history, inv.CreatedAt, inv.UpdatedAt,
	}
}

func scanInvoices(rows pgx.Rows) ([]Invoice, error) {
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv        Invoice
		typ, state string
		regime     string
		d          docSet
		caeExpiry  pgtype.Timestamptz
		voidedAt   pgtype.Timestamptz
		originalID pgtype.UUID
		saleID     pgtype.UUID
	)
	err := row.Scan(
		&inv.ID, &typ, &inv.PointOfSale, &state, &inv.Version,
		&inv.IssuerCUIT, &inv.IssuerName, &inv.IssuerAddress, &regime,
		&d.counterparty, &d.amounts, &d.lines, &d.vat, &d.tributes,
		&inv.VATApplied, &d.auth, &caeExpiry, &d.reasons,
		&inv.VoidReason, &voidedAt, &d.reference, &originalID, &saleID,
		&d.history, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Type = codes.InvoiceType(typ)
	inv.State = State(state)
	inv.IssuerRegime = Regime(regime)
	if voidedAt.Valid {
		inv.VoidedAt = voidedAt.Time
	}
	if originalID.Valid {
		inv.OriginalID = originalID.Bytes
	}
	if saleID.Valid {
		inv.SaleID = saleID.Bytes
	}

	var amounts amountsDoc
	unmarshal := func(src []byte, dst any) {
		if err != nil || len(src) == 0 {
			return
		}
		err = json.Unmarshal(src, dst)
	}
	unmarshal(d.counterparty, &inv.Counterparty)
	unmarshal(d.amounts, &amounts)
	unmarshal(d.lines, &inv.Lines)
	unmarshal(d.vat, &inv.VATBreakdown)
	unmarshal(d.tributes, &inv.Tributes)
	unmarshal(d.auth, &inv.Authorization)
	unmarshal(d.reasons, &inv.RejectionReasons)
	unmarshal(d.history, &inv.History)
	if len(d.reference) > 0 {
		inv.Reference = &DocumentReference{}
		unmarshal(d.reference, inv.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: unmarshal invoice documents: %w", err)
	}
	inv.NetTaxed = amounts.NetTaxed
	inv.NetUntaxed = amounts.NetUntaxed
	inv.Exempt = amounts.Exempt
	inv.VATTotal = amounts.VATTotal
	inv.TributeTotal = amounts.TributeTotal
	inv.GrandTotal = amounts.GrandTotal
	return &inv, nil
}
