package sales

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/customers"
	"github.com/pampa-erp/pampa-erp/internal/fiscal"
	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

// RepositoryPort defines data access methods for sales.
type RepositoryPort interface {
	Create(ctx context.Context, s *Sale) error
	Get(ctx context.Context, id uuid.UUID) (*Sale, error)
}

// CustomerSource provides the counterparty data for a sale.
type CustomerSource interface {
	Get(ctx context.Context, id uuid.UUID) (*customers.Customer, error)
}

// Service handles sales business logic and feeds invoice drafts.
type Service struct {
	repo      RepositoryPort
	customers CustomerSource
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, customers CustomerSource) *Service {
	return &Service{repo: repo, customers: customers}
}

// Record stores a new sale.
func (s *Service) Record(ctx context.Context, input SaleInput) (*Sale, error) {
	if input.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("sales: customer id required: %w", httpx.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("sales: at least one line required: %w", httpx.ErrValidation)
	}
	if !input.Total.IsPositive() {
		return nil, fmt.Errorf("sales: total must be positive: %w", httpx.ErrValidation)
	}
	sale := &Sale{
		ID:         uuid.New(),
		CustomerID: input.CustomerID,
		Lines:      input.Lines,
		Net:        input.Net,
		VAT:        input.VAT,
		Total:      input.Total,
		VATApplied: input.VATApplied,
	}
	if err := s.repo.Create(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

// Get returns one sale.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return s.repo.Get(ctx, id)
}

// DraftFromSale maps a sale and its customer into a fiscal draft input. The
// customer's cached condition label travels along but the resolver is the
// authority on the condition used for submission.
func (s *Service) DraftFromSale(ctx context.Context, saleID uuid.UUID) (*fiscal.DraftInput, error) {
	sale, err := s.repo.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	customer, err := s.customers.Get(ctx, sale.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("sales: load customer for sale %s: %w", saleID, err)
	}

	input := &fiscal.DraftInput{
		Counterparty: fiscal.Counterparty{
			DocTypeCode:    customer.DocTypeCode,
			DocNumber:      customer.DocNumber,
			Name:           customer.Name,
			Address:        customer.Address,
			ConditionLabel: customer.ConditionLabel,
		},
		NetTaxed:   sale.Net,
		VATTotal:   sale.VAT,
		GrandTotal: sale.Total,
		VATApplied: sale.VATApplied,
		SaleID:     sale.ID,
	}
	if !sale.VATApplied {
		// Untaxed sale: the whole net is outside the VAT regime.
		input.NetTaxed = decimal.Zero
		input.NetUntaxed = sale.Net
	}
	for _, l := range sale.Lines {
		input.Lines = append(input.Lines, fiscal.DraftLine{
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			NetAmount:   l.Total,
			Total:       l.Total,
		})
	}
	if sale.VAT.IsPositive() {
		input.VATBreakdown = []fiscal.VATEntry{{
			RateCode: 5,
			Rate:     decimal.NewFromFloat(0.21),
			Base:     input.NetTaxed,
			Amount:   sale.VAT,
		}}
	}
	return input, nil
}
