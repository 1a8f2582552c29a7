package customers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

type memoryCustomerRepo struct {
	customers map[uuid.UUID]*Customer
}

func newMemoryCustomerRepo() *memoryCustomerRepo {
	return &memoryCustomerRepo{customers: make(map[uuid.UUID]*Customer)}
}

func (r *memoryCustomerRepo) Create(ctx context.Context, c *Customer) error {
	r.customers[c.ID] = c
	return nil
}

func (r *memoryCustomerRepo) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *memoryCustomerRepo) List(ctx context.Context, limit int) ([]Customer, error) {
	out := make([]Customer, 0, len(r.customers))
	for _, c := range r.customers {
		out = append(out, *c)
	}
	return out, nil
}

func TestCreateCustomer(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryCustomerRepo())

	c, err := svc.Create(ctx, CustomerInput{
		Name:         "ACME DISTRIBUCIONES SA",
		DocTypeLabel: "CUIT",
		DocNumber:    "30500010912",
	})
	require.NoError(t, err)
	require.Equal(t, 80, c.DocTypeCode)
}

func TestCreateCustomerDefaultsToDNI(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryCustomerRepo())

	c, err := svc.Create(ctx, CustomerInput{Name: "JUANA MOLINA", DocNumber: "28456789"})
	require.NoError(t, err)
	require.Equal(t, 96, c.DocTypeCode)
}

func TestCreateCustomerUnknownDocTypeFails(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryCustomerRepo())

	_, err := svc.Create(ctx, CustomerInput{Name: "X", DocNumber: "1", DocTypeLabel: "LICENSE"})
	require.Error(t, err, "our own records never carry unknown labels")
}

func TestCreateCustomerRequiredFields(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryCustomerRepo())

	_, err := svc.Create(ctx, CustomerInput{DocNumber: "1"})
	require.ErrorContains(t, err, "name required")

	_, err = svc.Create(ctx, CustomerInput{Name: "X"})
	require.ErrorContains(t, err, "document number required")
}

func TestErrNotFoundWrapsGenericSentinel(t *testing.T) {
	require.ErrorIs(t, ErrNotFound, httpx.ErrNotFound)
}

func TestCreateValidationWrapsGenericSentinel(t *testing.T) {
	svc := NewService(newMemoryCustomerRepo())
	_, err := svc.Create(context.Background(), CustomerInput{DocNumber: "123"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}
