package customers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

// RepositoryPort defines data access methods for customers.
type RepositoryPort interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, id uuid.UUID) (*Customer, error)
	List(ctx context.Context, limit int) ([]Customer, error)
}

// Service handles customer business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a new customer. The document-type label must be one of
// the known internal labels; unknown labels are a hard error here, unlike
// codes coming back from the authority.
func (s *Service) Create(ctx context.Context, input CustomerInput) (*Customer, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("customers: name required: %w", httpx.ErrValidation)
	}
	if input.DocNumber == "" {
		return nil, fmt.Errorf("customers: document number required: %w", httpx.ErrValidation)
	}
	label := input.DocTypeLabel
	if label == "" {
		label = "DNI"
	}
	docTypeCode, err := codes.DocTypeCode(label)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, httpx.ErrValidation)
	}
	c := &Customer{
		ID:             uuid.New(),
		Name:           input.Name,
		DocTypeCode:    docTypeCode,
		DocNumber:      input.DocNumber,
		Address:        input.Address,
		ConditionLabel: input.ConditionLabel,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns one customer.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.repo.Get(ctx, id)
}

// List returns all customers.
func (s *Service) List(ctx context.Context) ([]Customer, error) {
	return s.repo.List(ctx, 0)
}
