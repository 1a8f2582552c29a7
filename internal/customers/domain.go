package customers

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a counterparty on record. ConditionLabel is a convenience
// cache only: submissions always re-resolve the condition against the
// authority's registry.
type Customer struct {
	ID             uuid.UUID
	Name           string
	DocTypeCode    int
	DocNumber      string
	Address        string
	ConditionLabel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CustomerInput creates or updates a customer.
type CustomerInput struct {
	Name           string
	DocTypeLabel   string
	DocNumber      string
	Address        string
	ConditionLabel string
}
