package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

// ErrNotFound indicates resource not found. It wraps the httpx sentinel so
// the handler can fall back to generic mapping.
var ErrNotFound = fmt.Errorf("customers: %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed persistence for customers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new customer.
func (r *Repository) Create(ctx context.Context, c *Customer) error {
	query := `
		INSERT INTO customers (id, name, doc_type_code, doc_number, address, condition_label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, c.ID, c.Name, c.DocTypeCode, c.DocNumber, c.Address, c.ConditionLabel).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("customers: document %s already registered: %w", c.DocNumber, httpx.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("customers: insert: %w", err)
	}
	return nil
}

// Get loads one customer by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var c Customer
	query := `SELECT id, name, doc_type_code, doc_number, address, condition_label, created_at, updated_at FROM customers WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&c.ID, &c.Name, &c.DocTypeCode, &c.DocNumber, &c.Address, &c.ConditionLabel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns customers ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, doc_type_code, doc_number, address, condition_label, created_at, updated_at FROM customers ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.DocTypeCode, &c.DocNumber, &c.Address, &c.ConditionLabel, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
