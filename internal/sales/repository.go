package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

// ErrNotFound indicates resource not found. It wraps the httpx sentinel so
// the handler can fall back to generic mapping.
var ErrNotFound = fmt.Errorf("sales: %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed persistence for sales. Lines are
// stored as a JSONB document alongside the aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new sale.
func (r *Repository) Create(ctx context.Context, s *Sale) error {
	lines, err := json.Marshal(s.Lines)
	if err != nil {
		return fmt.Errorf("sales: marshal lines: %w", err)
	}
	query := `
		INSERT INTO sales (id, customer_id, lines, net, vat, total, vat_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`
	err = r.pool.QueryRow(ctx, query, s.ID, s.CustomerID, lines, s.Net.StringFixed(2), s.VAT.StringFixed(2), s.Total.StringFixed(2), s.VATApplied).
		Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("sales: insert: %w", err)
	}
	return nil
}

// Get loads one sale by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Sale, error) {
	var (
		s     Sale
		lines []byte
		net   string
		vat   string
		total string
	)
	query := `SELECT id, customer_id, lines, net::text, vat::text, total::text, vat_applied, created_at FROM sales WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.CustomerID, &lines, &net, &vat, &total, &s.VATApplied, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &s.Lines); err != nil {
		return nil, fmt.Errorf("sales: unmarshal lines: %w", err)
	}
	if err := scanAmounts(&s, net, vat, total); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAmounts(s *Sale, net, vat, total string) error {
	var err error
	if s.Net, err = decimal.NewFromString(net); err != nil {
		return fmt.Errorf("sales: bad net amount %q: %w", net, err)
	}
	if s.VAT, err = decimal.NewFromString(vat); err != nil {
		return fmt.Errorf("sales: bad vat amount %q: %w", vat, err)
	}
	if s.Total, err = decimal.NewFromString(total); err != nil {
		return fmt.Errorf("sales: bad total amount %q: %w", total, err)
	}
	return nil
}
